package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
)

// InsertTimeEntry opens a running entry. The partial unique index on
// (owner_id) WHERE end_time IS NULL turns a second concurrent start into a
// Conflict; callers surface that to the user.
func InsertTimeEntry(ctx context.Context, q Querier, e *TimeEntry) (*TimeEntry, error) {
	query, args, err := psql.Insert("time_entries").
		Columns("owner_id", "task_id", "start_time", "end_time").
		Values(e.Owner, e.TaskID, e.StartTime, e.EndTime).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&e.ID); err != nil {
		return nil, Classify(err, "InsertTimeEntry", "time_entries")
	}
	return e, nil
}

// GetRunningTimeEntry returns the owner's open entry, if any.
func GetRunningTimeEntry(ctx context.Context, q Querier, owner int64) (*TimeEntry, error) {
	query, args, err := psql.Select("id", "owner_id", "task_id", "start_time", "end_time").
		From("time_entries").
		Where(squirrel.Eq{"owner_id": owner, "end_time": nil}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var e TimeEntry
	if err := q.GetContext(ctx, &e, query, args...); err != nil {
		return nil, Classify(err, "GetRunningTimeEntry", "time_entries")
	}
	return &e, nil
}

// CloseTimeEntry stops the owner's running entry.
func CloseTimeEntry(ctx context.Context, q Querier, owner int64, endTime time.Time) (bool, error) {
	query, args, err := psql.Update("time_entries").
		Set("end_time", endTime).
		Where(squirrel.Eq{"owner_id": owner, "end_time": nil}).
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, Classify(err, "CloseTimeEntry", "time_entries")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
