package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
)

var taskColumns = []string{
	"id", "owner_id", "title", "description", "status", "due_date",
	"project_id", "area_id", "estimate_minutes", "cognitive_cost",
	"control_enabled", "control_frequency_minutes", "control_status",
	"remind_policy", "is_watched", "created_at",
}

var reminderColumns = []string{
	"id", "task_id", "owner_id", "kind", "trigger_at", "frequency_minutes",
	"payload", "is_active", "last_triggered_at",
}

// GetTask loads a task by id, scoped to its owner.
func GetTask(ctx context.Context, q Querier, owner, id int64) (*Task, error) {
	query, args, err := psql.Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var t Task
	if err := q.GetContext(ctx, &t, query, args...); err != nil {
		return nil, Classify(err, "GetTask", "tasks")
	}
	return &t, nil
}

// InsertTask persists a new task. A task needs a project or an area;
// the service layer resolves inheritance before calling this.
func InsertTask(ctx context.Context, q Querier, t *Task) (*Task, error) {
	if t.ProjectID == nil && t.AreaID == nil {
		return nil, Validationf("InsertTask", "tasks", "task needs a project or an area")
	}

	query, args, err := psql.Insert("tasks").
		Columns("owner_id", "title", "description", "status", "due_date",
			"project_id", "area_id", "estimate_minutes", "cognitive_cost",
			"control_enabled", "control_frequency_minutes", "control_status",
			"remind_policy", "is_watched").
		Values(t.Owner, t.Title, t.Description, t.Status, t.DueDate,
			t.ProjectID, t.AreaID, t.EstimateMinutes, t.CognitiveCost,
			t.ControlEnabled, t.ControlFrequencyMinutes, t.ControlStatus,
			t.RemindPolicy, t.IsWatched).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, Classify(err, "InsertTask", "tasks")
	}
	return t, nil
}

// UpdateTask rewrites the mutable fields of a task.
func UpdateTask(ctx context.Context, q Querier, t *Task) error {
	query, args, err := psql.Update("tasks").
		Set("title", t.Title).
		Set("description", t.Description).
		Set("status", t.Status).
		Set("due_date", t.DueDate).
		Set("project_id", t.ProjectID).
		Set("area_id", t.AreaID).
		Set("estimate_minutes", t.EstimateMinutes).
		Set("cognitive_cost", t.CognitiveCost).
		Set("control_enabled", t.ControlEnabled).
		Set("control_frequency_minutes", t.ControlFrequencyMinutes).
		Set("control_status", t.ControlStatus).
		Set("remind_policy", t.RemindPolicy).
		Set("is_watched", t.IsWatched).
		Where(squirrel.Eq{"id": t.ID, "owner_id": t.Owner}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "UpdateTask", "tasks")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "UpdateTask", Table: "tasks", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

// GetTaskReminder loads a reminder by id.
func GetTaskReminder(ctx context.Context, q Querier, id int64) (*TaskReminder, error) {
	query, args, err := psql.Select(reminderColumns...).
		From("task_reminders").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var r TaskReminder
	if err := q.GetContext(ctx, &r, query, args...); err != nil {
		return nil, Classify(err, "GetTaskReminder", "task_reminders")
	}
	return &r, nil
}

// InsertTaskReminder persists a reminder and returns it with its id.
func InsertTaskReminder(ctx context.Context, q Querier, r *TaskReminder) (*TaskReminder, error) {
	query, args, err := psql.Insert("task_reminders").
		Columns("task_id", "owner_id", "kind", "trigger_at", "frequency_minutes",
			"payload", "is_active", "last_triggered_at").
		Values(r.TaskID, r.Owner, r.Kind, r.TriggerAt, r.FrequencyMinutes,
			r.Payload, r.IsActive, r.LastTriggeredAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&r.ID); err != nil {
		return nil, Classify(err, "InsertTaskReminder", "task_reminders")
	}
	return r, nil
}

// AdvanceTaskReminder moves a recurring reminder to its next slot.
func AdvanceTaskReminder(ctx context.Context, q Querier, id int64, triggerAt, lastTriggeredAt time.Time) error {
	query, args, err := psql.Update("task_reminders").
		Set("trigger_at", triggerAt).
		Set("last_triggered_at", lastTriggeredAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "AdvanceTaskReminder", "task_reminders")
	}
	return nil
}

// DeactivateTaskReminder marks a reminder spent after its final firing.
func DeactivateTaskReminder(ctx context.Context, q Querier, id int64, firedAt time.Time) error {
	query, args, err := psql.Update("task_reminders").
		Set("is_active", false).
		Set("last_triggered_at", firedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "DeactivateTaskReminder", "task_reminders")
	}
	return nil
}

// AddTaskWatcher subscribes a watcher. The partial unique index rejects a
// second active row for the same (task, watcher) pair as a Conflict.
func AddTaskWatcher(ctx context.Context, q Querier, w *TaskWatcher) error {
	query, args, err := psql.Insert("task_watchers").
		Columns("task_id", "watcher_id", "added_by", "state").
		Values(w.TaskID, w.WatcherID, w.AddedBy, WatcherActive).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "AddTaskWatcher", "task_watchers")
	}
	return nil
}

// LeaveTask marks a watcher as departed.
func LeaveTask(ctx context.Context, q Querier, taskID, watcherID int64, reason string, at time.Time) error {
	query, args, err := psql.Update("task_watchers").
		Set("state", WatcherLeft).
		Set("left_reason", reason).
		Set("left_at", at).
		Where(squirrel.Eq{"task_id": taskID, "watcher_id": watcherID, "state": WatcherActive}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "LeaveTask", "task_watchers")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "LeaveTask", Table: "task_watchers", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

// ListActiveWatchers returns ids of users actively watching a task.
func ListActiveWatchers(ctx context.Context, q Querier, taskID int64) ([]int64, error) {
	query, args, err := psql.Select("watcher_id").
		From("task_watchers").
		Where(squirrel.Eq{"task_id": taskID, "state": WatcherActive}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var ids []int64
	if err := q.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, Classify(err, "ListActiveWatchers", "task_watchers")
	}
	return ids, nil
}
