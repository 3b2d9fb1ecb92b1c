// Package planner keeps notification_triggers consistent with the entities
// they were planned from: task reminders, calendar alarms, and per-owner
// daily cron runs.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/paraplan/paraplan/internal/store"
)

// Rule is the JSON payload carried by a trigger: what it was planned from
// plus the dispatcher's retry state.
type Rule struct {
	Kind       store.TriggerKind `json:"kind"`
	ReminderID int64             `json:"reminder_id,omitempty"`
	AlarmID    int64             `json:"alarm_id,omitempty"`
	Owner      int64             `json:"owner,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

func (r Rule) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// DecodeRule parses a trigger's rule column. A rule that does not parse or
// names an unknown kind is Fatal: the dispatcher cannot guess what such a
// trigger was meant to do.
func DecodeRule(raw string) (Rule, error) {
	var r Rule
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Rule{}, store.Fatalf("DecodeRule", "notification_triggers", "unparseable rule %q: %v", raw, err)
	}
	switch r.Kind {
	case store.TriggerTaskReminder, store.TriggerAlarm, store.TriggerDailyCron:
		return r, nil
	default:
		return Rule{}, store.Fatalf("DecodeRule", "notification_triggers", "unknown trigger kind %q", r.Kind)
	}
}

// Planner plans and advances triggers. All methods run inside the caller's
// transaction; a crash mid-plan leaves nothing half-written.
type Planner struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Planner {
	return &Planner{logger: logger.With().Str("component", "planner").Logger()}
}

// PlanTaskReminder ensures exactly one pending trigger for a reminder,
// keyed by the reminder's current trigger time. Stale triggers from an
// earlier trigger_at or frequency are removed first, so editing a reminder
// re-plans it cleanly.
func (p *Planner) PlanTaskReminder(ctx context.Context, tx *sqlx.Tx, r *store.TaskReminder) error {
	prefix := fmt.Sprintf("task-reminder:%d:", r.ID)
	if _, err := store.DeleteTriggersByKeyPrefix(ctx, tx, prefix); err != nil {
		return err
	}
	if !r.IsActive {
		return nil
	}

	rule := Rule{Kind: store.TriggerTaskReminder, ReminderID: r.ID, Owner: r.Owner}
	t := &store.NotificationTrigger{
		NextFireAt: r.TriggerAt,
		Rule:       rule.Encode(),
		DedupeKey:  store.DedupeKeyTaskReminder(r.ID, r.TriggerAt),
	}
	if err := store.UpsertTrigger(ctx, tx, t); err != nil {
		return err
	}
	p.logger.Debug().Int64("reminder", r.ID).Time("fire_at", r.TriggerAt).Msg("task reminder planned")
	return nil
}

// PlanAlarm ensures a trigger for an unsent alarm and removes the trigger
// once the alarm is sent.
func (p *Planner) PlanAlarm(ctx context.Context, tx *sqlx.Tx, a *store.Alarm, owner int64) error {
	key := store.DedupeKeyAlarm(a.ID)
	if a.IsSent {
		_, err := store.DeleteTriggerByKey(ctx, tx, key)
		return err
	}

	rule := Rule{Kind: store.TriggerAlarm, AlarmID: a.ID, Owner: owner}
	t := &store.NotificationTrigger{
		NextFireAt: a.TriggerAt,
		AlarmID:    &a.ID,
		Rule:       rule.Encode(),
		DedupeKey:  key,
	}
	if err := store.UpsertTrigger(ctx, tx, t); err != nil {
		return err
	}
	p.logger.Debug().Int64("alarm", a.ID).Time("fire_at", a.TriggerAt).Msg("alarm planned")
	return nil
}

// PlanDailyCron ensures the owner's housekeeping trigger for a calendar
// day, firing at midnight UTC of that day.
func (p *Planner) PlanDailyCron(ctx context.Context, tx *sqlx.Tx, owner int64, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)
	rule := Rule{Kind: store.TriggerDailyCron, Owner: owner}
	t := &store.NotificationTrigger{
		NextFireAt: day,
		Rule:       rule.Encode(),
		DedupeKey:  store.DedupeKeyDailyCron(owner, day),
	}
	return store.UpsertTrigger(ctx, tx, t)
}

// NextOccurrence walks a recurring reminder forward from its previous
// trigger time in whole frequency steps until the result is strictly after
// now. Missed windows collapse into a single next slot.
func NextOccurrence(prev time.Time, frequency time.Duration, now time.Time) time.Time {
	next := prev.Add(frequency)
	if !next.After(now) {
		// Jump across the missed intervals instead of looping one by one.
		missed := now.Sub(prev) / frequency
		next = prev.Add((missed + 1) * frequency)
	}
	return next
}

// AdvanceAfterFire moves a fired trigger to its next state: recurring
// reminders advance to the next slot with a fresh dedupe key, one-shot
// reminders and alarms are deactivated and their trigger removed, and
// daily crons are re-planned for the following day.
func (p *Planner) AdvanceAfterFire(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, now time.Time) error {
	rule, err := DecodeRule(trigger.Rule)
	if err != nil {
		return err
	}

	switch rule.Kind {
	case store.TriggerTaskReminder:
		return p.advanceReminder(ctx, tx, trigger, rule, now)

	case store.TriggerAlarm:
		if err := store.MarkAlarmSent(ctx, tx, rule.AlarmID); err != nil {
			return err
		}
		return store.DeleteTrigger(ctx, tx, trigger.ID)

	case store.TriggerDailyCron:
		if err := store.DeleteTrigger(ctx, tx, trigger.ID); err != nil {
			return err
		}
		return p.PlanDailyCron(ctx, tx, rule.Owner, now.UTC().Add(24*time.Hour))
	}
	return nil
}

func (p *Planner) advanceReminder(ctx context.Context, tx *sqlx.Tx, trigger *store.NotificationTrigger, rule Rule, now time.Time) error {
	r, err := store.GetTaskReminder(ctx, tx, rule.ReminderID)
	if err != nil {
		if store.IsNotFound(err) {
			// Source is gone; the trigger is an orphan.
			return store.DeleteTrigger(ctx, tx, trigger.ID)
		}
		return err
	}

	if r.OneShot() {
		if err := store.DeactivateTaskReminder(ctx, tx, r.ID, now); err != nil {
			return err
		}
		return store.DeleteTrigger(ctx, tx, trigger.ID)
	}

	freq := time.Duration(*r.FrequencyMinutes) * time.Minute
	next := NextOccurrence(r.TriggerAt, freq, now)

	if err := store.AdvanceTaskReminder(ctx, tx, r.ID, next, now); err != nil {
		return err
	}
	if err := store.DeleteTrigger(ctx, tx, trigger.ID); err != nil {
		return err
	}

	fresh := Rule{Kind: store.TriggerTaskReminder, ReminderID: r.ID, Owner: r.Owner}
	planned := &store.NotificationTrigger{
		NextFireAt: next,
		Rule:       fresh.Encode(),
		DedupeKey:  store.DedupeKeyTaskReminder(r.ID, next),
	}
	if err := store.UpsertTrigger(ctx, tx, planned); err != nil {
		return err
	}
	p.logger.Debug().Int64("reminder", r.ID).Time("next", next).Msg("recurring reminder advanced")
	return nil
}

// Deactivate removes pending triggers for a source entity.
func (p *Planner) Deactivate(ctx context.Context, tx *sqlx.Tx, kind store.TriggerKind, id int64) error {
	var (
		n   int64
		err error
	)
	switch kind {
	case store.TriggerTaskReminder:
		n, err = store.DeleteTriggersByKeyPrefix(ctx, tx, fmt.Sprintf("task-reminder:%d:", id))
	case store.TriggerAlarm:
		var removed bool
		removed, err = store.DeleteTriggerByKey(ctx, tx, store.DedupeKeyAlarm(id))
		if removed {
			n = 1
		}
	case store.TriggerDailyCron:
		n, err = store.DeleteTriggersByKeyPrefix(ctx, tx, fmt.Sprintf("daily-cron:%d:", id))
	default:
		return store.Validationf("Deactivate", "notification_triggers", "unknown kind %q", kind)
	}
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Debug().Str("kind", string(kind)).Int64("id", id).Int64("removed", n).Msg("triggers deactivated")
	}
	return nil
}
