// Package dispatch runs the notification worker: it claims due triggers,
// produces at-most-once deliveries per dedupe key, fans out to channel
// senders, and advances the source trigger.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	Jitter       time.Duration
	BatchSize    int
	SendTimeout  time.Duration
	MaxAttempts  int
	// MaxCommitFailures bounds consecutive failed iterations before the
	// worker gives up and exits unrecoverably.
	MaxCommitFailures int
}

// DefaultConfig mirrors the worker's environment defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      60 * time.Second,
		Jitter:            5 * time.Second,
		BatchSize:         100,
		SendTimeout:       10 * time.Second,
		MaxAttempts:       6,
		MaxCommitFailures: 5,
	}
}

// CronRunner is the housekeeping hook invoked when a daily-cron trigger
// fires. The habit service implements it.
type CronRunner interface {
	RunDailyCron(ctx context.Context, tx *sqlx.Tx, owner int64, now time.Time) error
}

// Dispatcher is the long-running notification worker.
type Dispatcher struct {
	store   *store.Store
	planner *planner.Planner
	senders map[string]Sender
	cron    CronRunner
	cfg     Config
	clock   Clock
	logger  zerolog.Logger
}

func New(st *store.Store, pl *planner.Planner, senders map[string]Sender, cron CronRunner, cfg Config, clock Clock, logger zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxCommitFailures <= 0 {
		cfg.MaxCommitFailures = DefaultConfig().MaxCommitFailures
	}
	return &Dispatcher{
		store:   st,
		planner: pl,
		senders: senders,
		cron:    cron,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With().Str("component", "dispatch").Logger(),
	}
}

// Run polls until ctx is cancelled. It returns nil on clean shutdown and
// an error when the worker cannot continue: a Fatal invariant violation or
// too many consecutive failed iterations.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Dur("poll_interval", d.cfg.PollInterval).Int("batch_size", d.cfg.BatchSize).Msg("dispatcher started")
	failures := 0
	for {
		n, err := d.RunOnce(ctx)
		switch {
		case err == nil:
			failures = 0
			if n > 0 {
				d.logger.Debug().Int("processed", n).Msg("batch complete")
			}
		case ctx.Err() != nil:
			d.logger.Info().Msg("dispatcher stopped")
			return nil
		case store.KindOf(err) == store.KindFatal:
			d.logger.Error().Err(err).Msg("invariant violated, stopping dispatcher")
			return err
		default:
			failures++
			d.logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("dispatch iteration failed")
			if failures >= d.cfg.MaxCommitFailures {
				return fmt.Errorf("dispatcher giving up after %d consecutive failures: %w", failures, err)
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher stopped")
			return nil
		case <-time.After(d.sleepInterval()):
		}
	}
}

func (d *Dispatcher) sleepInterval() time.Duration {
	sleep := d.cfg.PollInterval
	if d.cfg.Jitter > 0 {
		sleep += time.Duration(rand.Int63n(int64(d.cfg.Jitter)))
	}
	return sleep
}

// RunOnce claims and processes one batch inside a single transaction. If
// the commit fails the whole batch is retried on the next iteration; the
// dedupe check makes that safe.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.clock.Now()
	processed := 0

	err := d.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		triggers, err := store.ClaimDueTriggers(ctx, tx, now, d.cfg.BatchSize)
		if err != nil {
			return err
		}

		for i := range triggers {
			if err := d.processTrigger(ctx, tx, &triggers[i], now); err != nil {
				return err
			}
			processed++
			// A stop signal drains the in-flight trigger, commits,
			// and starts nothing new.
			if ctx.Err() != nil {
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

func (d *Dispatcher) processTrigger(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, now time.Time) error {
	exists, err := store.DeliveryExists(ctx, tx, trigger.DedupeKey)
	if err != nil {
		return err
	}
	if exists {
		// Another instance, or a previous crash-recovered run, already
		// honored this key. Just move the trigger along.
		d.logger.Debug().Str("dedupe_key", trigger.DedupeKey).Msg("duplicate firing skipped")
		return d.planner.AdvanceAfterFire(ctx, tx, trigger, now)
	}

	rule, err := planner.DecodeRule(trigger.Rule)
	if err != nil {
		return err
	}

	if rule.Kind == store.TriggerDailyCron {
		return d.processDailyCron(ctx, tx, trigger, rule, now)
	}

	text, owner, recipients, err := d.resolveMessage(ctx, tx, trigger, rule)
	if err != nil {
		if store.IsNotFound(err) {
			// Source entity is gone; drop the orphaned trigger.
			d.logger.Warn().Str("dedupe_key", trigger.DedupeKey).Msg("trigger source missing, removing")
			return store.DeleteTrigger(ctx, tx, trigger.ID)
		}
		return err
	}

	sendErr := d.deliver(ctx, tx, append([]int64{owner}, recipients...), text)
	if sendErr != nil && !IsPermanent(sendErr) {
		return d.scheduleRetry(ctx, tx, trigger, rule, now, sendErr)
	}

	failed := sendErr != nil
	if _, err := store.InsertDelivery(ctx, tx, trigger.DedupeKey, failed, now); err != nil {
		return err
	}
	if failed {
		d.logger.Warn().Err(sendErr).Str("dedupe_key", trigger.DedupeKey).Msg("delivery failed permanently")
	} else {
		d.logger.Info().Str("dedupe_key", trigger.DedupeKey).Msg("notification delivered")
	}

	return d.planner.AdvanceAfterFire(ctx, tx, trigger, now)
}

func (d *Dispatcher) processDailyCron(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, rule planner.Rule, now time.Time) error {
	if d.cron != nil {
		if err := d.cron.RunDailyCron(ctx, tx, rule.Owner, now); err != nil {
			return err
		}
	}
	if _, err := store.InsertDelivery(ctx, tx, trigger.DedupeKey, false, now); err != nil {
		return err
	}
	d.logger.Info().Int64("owner", rule.Owner).Str("dedupe_key", trigger.DedupeKey).Msg("daily cron ran")
	return d.planner.AdvanceAfterFire(ctx, tx, trigger, now)
}

// resolveMessage loads the trigger's source entities and renders the
// notification text. It returns the owning user plus any extra recipients.
func (d *Dispatcher) resolveMessage(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, rule planner.Rule) (text string, owner int64, recipients []int64, err error) {
	switch rule.Kind {
	case store.TriggerTaskReminder:
		reminder, err := store.GetTaskReminder(ctx, tx, rule.ReminderID)
		if err != nil {
			return "", 0, nil, err
		}
		task, err := store.GetTask(ctx, tx, reminder.Owner, reminder.TaskID)
		if err != nil {
			return "", 0, nil, err
		}
		text := fmt.Sprintf("Напоминание: задача #%d — %s", task.ID, task.Title)
		var watchers []int64
		if task.IsWatched {
			watchers, err = store.ListActiveWatchers(ctx, tx, task.ID)
			if err != nil {
				return "", 0, nil, err
			}
		}
		return text, reminder.Owner, watchers, nil

	case store.TriggerAlarm:
		alarmID := rule.AlarmID
		if trigger.AlarmID != nil {
			alarmID = *trigger.AlarmID
		}
		item, err := store.GetCalendarItemByAlarm(ctx, tx, alarmID)
		if err != nil {
			return "", 0, nil, err
		}
		text := fmt.Sprintf("%s — %s", item.Title, item.StartAt.Format("02.01.2006 15:04"))
		return text, item.Owner, nil, nil
	}

	return "", 0, nil, store.Fatalf("resolveMessage", "notification_triggers", "unroutable trigger kind %q", rule.Kind)
}

// deliver fans the message out to every channel of every recipient. Any
// transient channel failure makes the whole firing retryable; a firing
// counts as permanently failed only when nothing succeeded and at least
// one channel failed for good.
func (d *Dispatcher) deliver(ctx context.Context, tx *sqlx.Tx, recipients []int64, text string) error {
	var (
		delivered bool
		permanent error
	)

	seen := make(map[int64]bool, len(recipients))
	for _, userID := range recipients {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		channels, err := store.ListChannels(ctx, tx, userID)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			d.logger.Warn().Int64("owner", userID).Msg("no addressable channels")
			continue
		}

		for _, ch := range channels {
			sender, ok := d.senders[ch.Channel]
			if !ok {
				d.logger.Warn().Str("channel", ch.Channel).Msg("no sender registered for channel")
				continue
			}

			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			err := sender.Send(sendCtx, ch.Address, text, false)
			cancel()

			switch {
			case err == nil:
				delivered = true
			case IsPermanent(err):
				d.logger.Warn().Err(err).Str("channel", ch.Channel).Int64("owner", userID).Msg("channel rejected message")
				permanent = err
			default:
				return err
			}
		}
	}

	if !delivered && permanent != nil {
		return permanent
	}
	return nil
}

// scheduleRetry pushes a transiently failed trigger into the future with
// exponential backoff, or converts it into a failure delivery once the
// attempt budget is spent.
func (d *Dispatcher) scheduleRetry(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, rule planner.Rule, now time.Time, sendErr error) error {
	rule.Attempts++
	rule.LastError = sendErr.Error()

	if rule.Attempts >= d.cfg.MaxAttempts {
		d.logger.Error().Err(sendErr).Str("dedupe_key", trigger.DedupeKey).
			Int("attempts", rule.Attempts).Msg("retry budget spent, recording failure")
		if _, err := store.InsertDelivery(ctx, tx, trigger.DedupeKey, true, now); err != nil {
			return err
		}
		return d.planner.AdvanceAfterFire(ctx, tx, trigger, now)
	}

	delay := retryBackoff(rule.Attempts)
	d.logger.Warn().Err(sendErr).Str("dedupe_key", trigger.DedupeKey).
		Int("attempt", rule.Attempts).Dur("retry_in", delay).Msg("send failed, will retry")
	return store.UpdateTriggerForRetry(ctx, tx, trigger.ID, now.Add(delay), rule.Encode())
}

// retryBackoff returns the delay before retry n: 1, 5, 25 minutes,
// then capped at one hour.
func retryBackoff(attempt int) time.Duration {
	delay := time.Minute
	for i := 1; i < attempt; i++ {
		delay *= 5
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}
