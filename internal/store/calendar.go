package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
)

// GetCalendarItem loads a calendar item by id, scoped to its owner.
func GetCalendarItem(ctx context.Context, q Querier, owner, id int64) (*CalendarItem, error) {
	query, args, err := psql.Select("id", "owner_id", "project_id", "area_id",
		"title", "start_at", "end_at", "status").
		From("calendar_items").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var item CalendarItem
	if err := q.GetContext(ctx, &item, query, args...); err != nil {
		return nil, Classify(err, "GetCalendarItem", "calendar_items")
	}
	return &item, nil
}

// GetCalendarItemByAlarm loads the item an alarm belongs to.
func GetCalendarItemByAlarm(ctx context.Context, q Querier, alarmID int64) (*CalendarItem, error) {
	query, args, err := psql.Select("ci.id", "ci.owner_id", "ci.project_id",
		"ci.area_id", "ci.title", "ci.start_at", "ci.end_at", "ci.status").
		From("calendar_items ci").
		Join("alarms a ON a.item_id = ci.id").
		Where(squirrel.Eq{"a.id": alarmID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var item CalendarItem
	if err := q.GetContext(ctx, &item, query, args...); err != nil {
		return nil, Classify(err, "GetCalendarItemByAlarm", "calendar_items")
	}
	return &item, nil
}

// InsertCalendarItem persists a new calendar item.
func InsertCalendarItem(ctx context.Context, q Querier, item *CalendarItem) (*CalendarItem, error) {
	if item.EndAt != nil && item.EndAt.Before(item.StartAt) {
		return nil, Validationf("InsertCalendarItem", "calendar_items", "end before start")
	}

	query, args, err := psql.Insert("calendar_items").
		Columns("owner_id", "project_id", "area_id", "title", "start_at", "end_at", "status").
		Values(item.Owner, item.ProjectID, item.AreaID, item.Title,
			item.StartAt, item.EndAt, item.Status).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&item.ID); err != nil {
		return nil, Classify(err, "InsertCalendarItem", "calendar_items")
	}
	return item, nil
}

// InsertAlarm persists an alarm after checking it falls inside the item's
// window and in the future.
func InsertAlarm(ctx context.Context, q Querier, item *CalendarItem, a *Alarm, now time.Time) (*Alarm, error) {
	if a.TriggerAt.Before(item.StartAt) {
		return nil, Validationf("InsertAlarm", "alarms", "alarm before item start")
	}
	if item.EndAt != nil && a.TriggerAt.After(*item.EndAt) {
		return nil, Validationf("InsertAlarm", "alarms", "alarm after item end")
	}
	if !a.TriggerAt.After(now) {
		return nil, Validationf("InsertAlarm", "alarms", "alarm in the past")
	}

	query, args, err := psql.Insert("alarms").
		Columns("item_id", "trigger_at", "is_sent").
		Values(a.ItemID, a.TriggerAt, a.IsSent).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&a.ID); err != nil {
		return nil, Classify(err, "InsertAlarm", "alarms")
	}
	return a, nil
}

// GetAlarm loads an alarm by id.
func GetAlarm(ctx context.Context, q Querier, id int64) (*Alarm, error) {
	query, args, err := psql.Select("id", "item_id", "trigger_at", "is_sent").
		From("alarms").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var a Alarm
	if err := q.GetContext(ctx, &a, query, args...); err != nil {
		return nil, Classify(err, "GetAlarm", "alarms")
	}
	return &a, nil
}

// MarkAlarmSent records that the alarm fired.
func MarkAlarmSent(ctx context.Context, q Querier, id int64) error {
	query, args, err := psql.Update("alarms").
		Set("is_sent", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "MarkAlarmSent", "alarms")
	}
	return nil
}
