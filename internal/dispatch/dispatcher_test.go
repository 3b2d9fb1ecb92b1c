package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

type sentMessage struct {
	address string
	text    string
}

// fakeSender records sends and fails according to err.
type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, address, text string, silent bool) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{address: address, text: text})
	return nil
}

type fakeCron struct {
	owners []int64
}

func (f *fakeCron) RunDailyCron(ctx context.Context, tx *sqlx.Tx, owner int64, now time.Time) error {
	f.owners = append(f.owners, owner)
	return nil
}

func newMockDispatcher(t *testing.T, sender Sender, cron CronRunner, now time.Time) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.NewWithDB(sqlx.NewDb(db, "postgres"), zerolog.Nop())
	pl := planner.New(zerolog.Nop())
	senders := map[string]Sender{"telegram": sender}
	d := New(st, pl, senders, cron, DefaultConfig(), FixedClock{T: now}, zerolog.Nop())
	return d, mock
}

func triggerRows(id int64, fireAt time.Time, rule planner.Rule, dedupeKey string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "next_fire_at", "alarm_id", "rule", "dedupe_key"}).
		AddRow(id, fireAt, nil, rule.Encode(), dedupeKey)
}

func reminderRows(id, taskID, owner int64, triggerAt time.Time, freqMinutes int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "task_id", "owner_id", "kind", "trigger_at", "frequency_minutes",
		"payload", "is_active", "last_triggered_at",
	})
	if freqMinutes > 0 {
		return rows.AddRow(id, taskID, owner, "custom", triggerAt, int64(freqMinutes), "", true, nil)
	}
	return rows.AddRow(id, taskID, owner, "custom", triggerAt, nil, "", true, nil)
}

func taskRows(id, owner int64, title string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "title", "description", "status", "due_date",
		"project_id", "area_id", "estimate_minutes", "cognitive_cost",
		"control_enabled", "control_frequency_minutes", "control_status",
		"remind_policy", "is_watched", "created_at",
	}).AddRow(id, owner, title, "", "todo", nil, nil, nil, nil, nil,
		false, nil, "active", nil, false, time.Now())
}

func channelRows(owner int64, channel, address string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"owner_id", "channel", "address"}).
		AddRow(owner, channel, address)
}

func expectClaim(mock sqlmock.Sqlmock, now time.Time, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT .* FROM notification_triggers WHERE next_fire_at <= \$1 ORDER BY next_fire_at ASC LIMIT 100 FOR UPDATE SKIP LOCKED`).
		WithArgs(now).
		WillReturnRows(rows)
}

func expectDeliveryExists(mock sqlmock.Sqlmock, key string, count int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notification_deliveries WHERE dedupe_key = \$1`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func expectInsertDelivery(mock sqlmock.Sqlmock, key string, failed bool, at time.Time) {
	mock.ExpectExec(`INSERT INTO notification_deliveries \(id,dedupe_key,failed,sent_at\)`).
		WithArgs(sqlmock.AnyArg(), key, failed, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// A due recurring reminder is claimed, delivered over the owner's channel,
// recorded as a delivery, and advanced to the next slot on its grid.
func TestRunOnceDeliversRecurringReminder(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(250 * time.Second)
	next := t0.Add(300 * time.Second)

	sender := &fakeSender{}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 0)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 1))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(taskRows(5, 1, "Write report"))

	mock.ExpectQuery(`SELECT owner_id, channel, address FROM notification_channels WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(channelRows(1, "telegram", "chat-900"))

	expectInsertDelivery(mock, key, false, now)

	// Advance: reload, push the reminder forward, swap the trigger.
	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 1))
	mock.ExpectExec(`UPDATE task_reminders SET trigger_at = \$1, last_triggered_at = \$2 WHERE id = \$3`).
		WithArgs(next, now, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO notification_triggers .* RETURNING id`).
		WithArgs(next, nil, rule.Encode(), store.DedupeKeyTaskReminder(42, next)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "chat-900", sender.sent[0].address)
	assert.Equal(t, "Напоминание: задача #5 — Write report", sender.sent[0].text)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A dedupe key that was already honored never reaches a sender; the trigger
// is still moved along so it stops coming up.
func TestRunOnceSkipsDuplicateFiring(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Second)

	sender := &fakeSender{}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 1)

	// Advance for a one-shot reminder: deactivate and drop the trigger.
	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectExec(`UPDATE task_reminders SET is_active = \$1, last_triggered_at = \$2 WHERE id = \$3`).
		WithArgs(false, now, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sender.sent, "duplicate firing must not send")
	require.NoError(t, mock.ExpectationsWereMet())
}

// A transient channel failure reschedules the same trigger with backoff and
// the retry state folded into its rule.
func TestRunOnceSchedulesRetryOnTransientFailure(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Second)

	sender := &fakeSender{err: errors.New("connection reset")}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 0)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(taskRows(5, 1, "Write report"))
	mock.ExpectQuery(`SELECT owner_id, channel, address FROM notification_channels WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(channelRows(1, "telegram", "chat-900"))

	retried := rule
	retried.Attempts = 1
	retried.LastError = "connection reset"
	mock.ExpectExec(`UPDATE notification_triggers SET next_fire_at = \$1, rule = \$2 WHERE id = \$3`).
		WithArgs(now.Add(time.Minute), retried.Encode(), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Once the attempt budget is spent a transient failure is recorded as a
// failed delivery and the trigger advances instead of retrying forever.
func TestRunOnceRetryBudgetSpent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Second)

	sender := &fakeSender{err: errors.New("connection reset")}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1, Attempts: 5, LastError: "connection reset"}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 0)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(taskRows(5, 1, "Write report"))
	mock.ExpectQuery(`SELECT owner_id, channel, address FROM notification_channels WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(channelRows(1, "telegram", "chat-900"))

	expectInsertDelivery(mock, key, true, now)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectExec(`UPDATE task_reminders SET is_active = \$1, last_triggered_at = \$2 WHERE id = \$3`).
		WithArgs(false, now, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A channel that rejects the message for good, with no other channel
// succeeding, yields a failed delivery rather than a retry.
func TestRunOncePermanentFailureRecordsFailedDelivery(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Second)

	sender := &fakeSender{err: &SendError{Permanent: true, Err: errors.New("chat not found")}}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 0)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(taskRows(5, 1, "Write report"))
	mock.ExpectQuery(`SELECT owner_id, channel, address FROM notification_channels WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(channelRows(1, "telegram", "chat-900"))

	expectInsertDelivery(mock, key, true, now)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(reminderRows(42, 5, 1, t0, 0))
	mock.ExpectExec(`UPDATE task_reminders SET is_active = \$1, last_triggered_at = \$2 WHERE id = \$3`).
		WithArgs(false, now, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// An orphaned trigger, one whose source entity no longer exists, is dropped
// without a send.
func TestRunOnceDropsOrphanedTrigger(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Second)

	sender := &fakeSender{}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rule := planner.Rule{Kind: store.TriggerTaskReminder, ReminderID: 42, Owner: 1}
	key := store.DedupeKeyTaskReminder(42, t0)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, t0, rule, key))
	expectDeliveryExists(mock, key, 0)

	mock.ExpectQuery(`SELECT .* FROM task_reminders WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sender.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A daily-cron trigger runs the housekeeping hook instead of sending, then
// records the run and plans the next day.
func TestRunOnceDailyCron(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 5, 0, time.UTC)
	fireAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	sender := &fakeSender{}
	cron := &fakeCron{}
	d, mock := newMockDispatcher(t, sender, cron, now)

	rule := planner.Rule{Kind: store.TriggerDailyCron, Owner: 3}
	key := store.DedupeKeyDailyCron(3, fireAt)

	mock.ExpectBegin()
	expectClaim(mock, now, triggerRows(100, fireAt, rule, key))
	expectDeliveryExists(mock, key, 0)

	expectInsertDelivery(mock, key, false, now)

	mock.ExpectExec(`DELETE FROM notification_triggers WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO notification_triggers .* RETURNING id`).
		WithArgs(tomorrow, nil, rule.Encode(), "daily-cron:3:2026-03-02").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, cron.owners)
	assert.Empty(t, sender.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A rule that cannot be decoded is Fatal and stops the worker loop.
func TestRunStopsOnFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sender := &fakeSender{}
	d, mock := newMockDispatcher(t, sender, nil, now)

	rows := sqlmock.NewRows([]string{"id", "next_fire_at", "alarm_id", "rule", "dedupe_key"}).
		AddRow(int64(100), now, nil, "{broken", "task-reminder:42:0")

	mock.ExpectBegin()
	expectClaim(mock, now, rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notification_deliveries WHERE dedupe_key = \$1`).
		WithArgs("task-reminder:42:0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, store.KindFatal, store.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d, mock := newMockDispatcher(t, &fakeSender{}, nil, now)

	mock.ExpectBegin()
	expectClaim(mock, now, sqlmock.NewRows([]string{"id", "next_fire_at", "alarm_id", "rule", "dedupe_key"}))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 25 * time.Minute},
		{4, time.Hour},
		{5, time.Hour},
		{10, time.Hour},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, retryBackoff(tt.attempt))
		})
	}
}
