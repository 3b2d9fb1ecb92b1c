package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var triggerColumns = []string{"id", "next_fire_at", "alarm_id", "rule", "dedupe_key"}

// UpsertTrigger ensures a trigger with the given dedupe key exists and
// points at next_fire_at. Re-planning the same source is idempotent.
func UpsertTrigger(ctx context.Context, q Querier, t *NotificationTrigger) error {
	query, args, err := psql.Insert("notification_triggers").
		Columns("next_fire_at", "alarm_id", "rule", "dedupe_key").
		Values(t.NextFireAt, t.AlarmID, t.Rule, t.DedupeKey).
		Suffix("ON CONFLICT (dedupe_key) DO UPDATE SET next_fire_at = EXCLUDED.next_fire_at, rule = EXCLUDED.rule RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&t.ID); err != nil {
		return Classify(err, "UpsertTrigger", "notification_triggers")
	}
	return nil
}

// GetTriggerByDedupeKey loads a trigger by its dedupe key.
func GetTriggerByDedupeKey(ctx context.Context, q Querier, key string) (*NotificationTrigger, error) {
	query, args, err := psql.Select(triggerColumns...).
		From("notification_triggers").
		Where(squirrel.Eq{"dedupe_key": key}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var t NotificationTrigger
	if err := q.GetContext(ctx, &t, query, args...); err != nil {
		return nil, Classify(err, "GetTriggerByDedupeKey", "notification_triggers")
	}
	return &t, nil
}

// DeleteTrigger removes one trigger row.
func DeleteTrigger(ctx context.Context, q Querier, id int64) error {
	query, args, err := psql.Delete("notification_triggers").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "DeleteTrigger", "notification_triggers")
	}
	return nil
}

// DeleteTriggerByKey removes the trigger with exactly this dedupe key.
func DeleteTriggerByKey(ctx context.Context, q Querier, key string) (bool, error) {
	query, args, err := psql.Delete("notification_triggers").
		Where(squirrel.Eq{"dedupe_key": key}).
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, Classify(err, "DeleteTriggerByKey", "notification_triggers")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteTriggersByKeyPrefix removes all pending triggers whose dedupe key
// starts with prefix. The planner uses this to cancel a source entity's
// schedule, for example "task-reminder:42:".
func DeleteTriggersByKeyPrefix(ctx context.Context, q Querier, prefix string) (int64, error) {
	query, args, err := psql.Delete("notification_triggers").
		Where(squirrel.Like{"dedupe_key": likeEscape(prefix) + "%"}).
		ToSql()
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, Classify(err, "DeleteTriggersByKeyPrefix", "notification_triggers")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClaimDueTriggers selects up to limit triggers due at now, oldest first,
// locking the rows for the life of the transaction. SKIP LOCKED keeps a
// second dispatcher from blocking on the same batch.
func ClaimDueTriggers(ctx context.Context, q Querier, now time.Time, limit int) ([]NotificationTrigger, error) {
	query, args, err := psql.Select(triggerColumns...).
		From("notification_triggers").
		Where(squirrel.LtOrEq{"next_fire_at": now}).
		OrderBy("next_fire_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, err
	}

	var triggers []NotificationTrigger
	if err := q.SelectContext(ctx, &triggers, query, args...); err != nil {
		return nil, Classify(err, "ClaimDueTriggers", "notification_triggers")
	}
	return triggers, nil
}

// UpdateTriggerForRetry pushes a failed trigger into the future and stores
// the updated retry state.
func UpdateTriggerForRetry(ctx context.Context, q Querier, id int64, nextFireAt time.Time, rule string) error {
	query, args, err := psql.Update("notification_triggers").
		Set("next_fire_at", nextFireAt).
		Set("rule", rule).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "UpdateTriggerForRetry", "notification_triggers")
	}
	return nil
}

// NotificationChannel is one addressable delivery target for an owner.
// Address is an opaque string the channel sender interprets: a chat id for
// telegram, a mailbox for email.
type NotificationChannel struct {
	Owner   int64  `db:"owner_id"`
	Channel string `db:"channel"`
	Address string `db:"address"`
}

// ListChannels returns the owner's registered delivery channels.
func ListChannels(ctx context.Context, q Querier, owner int64) ([]NotificationChannel, error) {
	query, args, err := psql.Select("owner_id", "channel", "address").
		From("notification_channels").
		Where(squirrel.Eq{"owner_id": owner}).
		OrderBy("channel").
		ToSql()
	if err != nil {
		return nil, err
	}

	var channels []NotificationChannel
	if err := q.SelectContext(ctx, &channels, query, args...); err != nil {
		return nil, Classify(err, "ListChannels", "notification_channels")
	}
	return channels, nil
}

// UpsertChannel registers or rewrites one delivery channel.
func UpsertChannel(ctx context.Context, q Querier, c *NotificationChannel) error {
	query, args, err := psql.Insert("notification_channels").
		Columns("owner_id", "channel", "address").
		Values(c.Owner, c.Channel, c.Address).
		Suffix("ON CONFLICT (owner_id, channel) DO UPDATE SET address = EXCLUDED.address").
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "UpsertChannel", "notification_channels")
	}
	return nil
}

// DeliveryExists reports whether a dedupe key has already been honored.
func DeliveryExists(ctx context.Context, q Querier, dedupeKey string) (bool, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("notification_deliveries").
		Where(squirrel.Eq{"dedupe_key": dedupeKey}).
		ToSql()
	if err != nil {
		return false, err
	}

	var n int
	if err := q.GetContext(ctx, &n, query, args...); err != nil {
		return false, Classify(err, "DeliveryExists", "notification_deliveries")
	}
	return n > 0, nil
}

// InsertDelivery records that a dedupe key was honored. The unique index on
// dedupe_key turns a concurrent duplicate into a Conflict, which is the
// at-most-once guarantee.
func InsertDelivery(ctx context.Context, q Querier, dedupeKey string, failed bool, sentAt time.Time) (*NotificationDelivery, error) {
	d := &NotificationDelivery{
		ID:        uuid.NewString(),
		DedupeKey: dedupeKey,
		Failed:    failed,
		SentAt:    sentAt,
	}

	query, args, err := psql.Insert("notification_deliveries").
		Columns("id", "dedupe_key", "failed", "sent_at").
		Values(d.ID, d.DedupeKey, d.Failed, d.SentAt).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return nil, Classify(err, "InsertDelivery", "notification_deliveries")
	}
	return d, nil
}
