package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Enum columns are stored as text. Scanning an unknown value is a Fatal
// error: it means the row was written by something that does not share
// our schema, and no service layer can recover from that.

func scanEnum(dst *string, src interface{}, table, column string, valid ...string) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return Fatalf("Scan", table, "column %s: unexpected type %T", column, src)
	}
	for _, v := range valid {
		if s == v {
			*dst = s
			return nil
		}
	}
	return Fatalf("Scan", table, "column %s: %w: %q", column, ErrCorruptRow, s)
}

// ProjectStatus represents the lifecycle state of a project
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
)

func (s *ProjectStatus) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "projects", "status",
		string(ProjectActive), string(ProjectPaused), string(ProjectCompleted))
}

func (s ProjectStatus) Value() (driver.Value, error) { return string(s), nil }

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

func (s *TaskStatus) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "tasks", "status",
		string(TaskTodo), string(TaskDoing), string(TaskDone))
}

func (s TaskStatus) Value() (driver.Value, error) { return string(s), nil }

// ControlStatus tracks whether periodic follow-up on a task is still wanted
type ControlStatus string

const (
	ControlActive  ControlStatus = "active"
	ControlDropped ControlStatus = "dropped"
)

func (s *ControlStatus) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "tasks", "control_status",
		string(ControlActive), string(ControlDropped))
}

func (s ControlStatus) Value() (driver.Value, error) { return string(s), nil }

// WatcherState represents a watcher's relationship to a task
type WatcherState string

const (
	WatcherActive WatcherState = "active"
	WatcherLeft   WatcherState = "left"
)

func (s *WatcherState) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "task_watchers", "state",
		string(WatcherActive), string(WatcherLeft))
}

func (s WatcherState) Value() (driver.Value, error) { return string(s), nil }

// ItemStatus represents the state of a calendar item
type ItemStatus string

const (
	ItemPlanned   ItemStatus = "planned"
	ItemDone      ItemStatus = "done"
	ItemCancelled ItemStatus = "cancelled"
)

func (s *ItemStatus) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "calendar_items", "status",
		string(ItemPlanned), string(ItemDone), string(ItemCancelled))
}

func (s ItemStatus) Value() (driver.Value, error) { return string(s), nil }

// ContainerType names the entity a note is attached to
type ContainerType string

const (
	ContainerProject  ContainerType = "project"
	ContainerArea     ContainerType = "area"
	ContainerResource ContainerType = "resource"
)

func (s *ContainerType) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "notes", "container_type",
		string(ContainerProject), string(ContainerArea), string(ContainerResource))
}

func (s ContainerType) Value() (driver.Value, error) { return string(s), nil }

// HabitType controls which scoring directions a habit accepts
type HabitType string

const (
	HabitPositive HabitType = "positive"
	HabitNegative HabitType = "negative"
	HabitBoth     HabitType = "both"
)

func (s *HabitType) Scan(src interface{}) error {
	return scanEnum((*string)(s), src, "habits", "type",
		string(HabitPositive), string(HabitNegative), string(HabitBoth))
}

func (s HabitType) Value() (driver.Value, error) { return string(s), nil }

// Difficulty scales rewards and damage
type Difficulty string

const (
	DifficultyTrivial Difficulty = "trivial"
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
)

func (d *Difficulty) Scan(src interface{}) error {
	return scanEnum((*string)(d), src, "habits", "difficulty",
		string(DifficultyTrivial), string(DifficultyEasy), string(DifficultyMedium), string(DifficultyHard))
}

func (d Difficulty) Value() (driver.Value, error) { return string(d), nil }

// TriggerKind names what a notification trigger was planned from
type TriggerKind string

const (
	TriggerTaskReminder TriggerKind = "task-reminder"
	TriggerAlarm        TriggerKind = "alarm"
	TriggerDailyCron    TriggerKind = "daily-cron"
)

func (k *TriggerKind) Scan(src interface{}) error {
	return scanEnum((*string)(k), src, "notification_triggers", "kind",
		string(TriggerTaskReminder), string(TriggerAlarm), string(TriggerDailyCron))
}

func (k TriggerKind) Value() (driver.Value, error) { return string(k), nil }

// Area is a long-lived responsibility. Areas form a per-owner tree encoded
// with a materialized path: MPPath is the dotted concatenation of ancestor
// slugs plus the area's own slug, always ending in ".".
type Area struct {
	ID                 int64      `db:"id"`
	Owner              int64      `db:"owner_id"`
	Name               string     `db:"name"`
	Slug               string     `db:"slug"`
	ParentID           *int64     `db:"parent_id"`
	MPPath             string     `db:"mp_path"`
	Depth              int        `db:"depth"`
	ReviewIntervalDays *int       `db:"review_interval_days"`
	IsActive           bool       `db:"is_active"`
	ArchivedAt         *time.Time `db:"archived_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

// Project must reference a leaf Area of the same owner.
type Project struct {
	ID          int64         `db:"id"`
	Owner       int64         `db:"owner_id"`
	AreaID      int64         `db:"area_id"`
	Name        string        `db:"name"`
	Slug        *string       `db:"slug"`
	Description string        `db:"description"`
	Status      ProjectStatus `db:"status"`
	ArchivedAt  *time.Time    `db:"archived_at"`
	CreatedAt   time.Time     `db:"created_at"`
}

// Resource is attached to a project, an area, or both.
type Resource struct {
	ID         int64      `db:"id"`
	Owner      int64      `db:"owner_id"`
	Title      string     `db:"title"`
	Type       string     `db:"type"`
	Content    string     `db:"content"`
	ProjectID  *int64     `db:"project_id"`
	AreaID     *int64     `db:"area_id"`
	ArchivedAt *time.Time `db:"archived_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Note lives inside a container or, with no container, in the owner's inbox.
type Note struct {
	ID            int64          `db:"id"`
	Owner         int64          `db:"owner_id"`
	Title         *string        `db:"title"`
	Content       string         `db:"content"`
	ContainerType *ContainerType `db:"container_type"`
	ContainerID   *int64         `db:"container_id"`
	Pinned        bool           `db:"pinned"`
	Position      int            `db:"position"`
	ArchivedAt    *time.Time     `db:"archived_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Task belongs to a project, an area, or both. When ProjectID is set the
// area is inherited from the project and the two must agree.
type Task struct {
	ID                      int64         `db:"id"`
	Owner                   int64         `db:"owner_id"`
	Title                   string        `db:"title"`
	Description             string        `db:"description"`
	Status                  TaskStatus    `db:"status"`
	DueDate                 *time.Time    `db:"due_date"`
	ProjectID               *int64        `db:"project_id"`
	AreaID                  *int64        `db:"area_id"`
	EstimateMinutes         *int          `db:"estimate_minutes"`
	CognitiveCost           *float64      `db:"cognitive_cost"`
	ControlEnabled          bool          `db:"control_enabled"`
	ControlFrequencyMinutes *int          `db:"control_frequency_minutes"`
	ControlStatus           ControlStatus `db:"control_status"`
	RemindPolicy            *string       `db:"remind_policy"`
	IsWatched               bool          `db:"is_watched"`
	CreatedAt               time.Time     `db:"created_at"`
}

// NeuralPriority is the inverse of cognitive cost; zero-cost tasks have none.
func (t *Task) NeuralPriority() *float64 {
	if t.CognitiveCost == nil || *t.CognitiveCost == 0 {
		return nil
	}
	p := 1 / *t.CognitiveCost
	return &p
}

// TaskReminder fires once at TriggerAt, or repeatedly every
// FrequencyMinutes when that is set and positive.
type TaskReminder struct {
	ID               int64      `db:"id"`
	TaskID           int64      `db:"task_id"`
	Owner            int64      `db:"owner_id"`
	Kind             string     `db:"kind"`
	TriggerAt        time.Time  `db:"trigger_at"`
	FrequencyMinutes *int       `db:"frequency_minutes"`
	Payload          string     `db:"payload"`
	IsActive         bool       `db:"is_active"`
	LastTriggeredAt  *time.Time `db:"last_triggered_at"`
}

// OneShot reports whether the reminder fires a single time. A missing or
// non-positive frequency means one-shot.
func (r *TaskReminder) OneShot() bool {
	return r.FrequencyMinutes == nil || *r.FrequencyMinutes <= 0
}

// TaskWatcher subscribes another user to a task's notifications.
type TaskWatcher struct {
	TaskID     int64        `db:"task_id"`
	WatcherID  int64        `db:"watcher_id"`
	AddedBy    int64        `db:"added_by"`
	State      WatcherState `db:"state"`
	LeftReason *string      `db:"left_reason"`
	LeftAt     *time.Time   `db:"left_at"`
}

// CalendarItem is a scheduled event.
type CalendarItem struct {
	ID        int64      `db:"id"`
	Owner     int64      `db:"owner_id"`
	ProjectID *int64     `db:"project_id"`
	AreaID    *int64     `db:"area_id"`
	Title     string     `db:"title"`
	StartAt   time.Time  `db:"start_at"`
	EndAt     *time.Time `db:"end_at"`
	Status    ItemStatus `db:"status"`
}

// Alarm requests a notification at TriggerAt, inside the item's window.
type Alarm struct {
	ID        int64     `db:"id"`
	ItemID    int64     `db:"item_id"`
	TriggerAt time.Time `db:"trigger_at"`
	IsSent    bool      `db:"is_sent"`
}

// NotificationTrigger is a scheduled intent to deliver a notification.
// DedupeKey identifies one intended firing; Rule carries kind, source id,
// and dispatcher retry state as JSON.
type NotificationTrigger struct {
	ID         int64     `db:"id"`
	NextFireAt time.Time `db:"next_fire_at"`
	AlarmID    *int64    `db:"alarm_id"`
	Rule       string    `db:"rule"`
	DedupeKey  string    `db:"dedupe_key"`
}

// NotificationDelivery records that a dedupe key has been honored.
// The unique index on DedupeKey is what makes dispatch at-most-once.
type NotificationDelivery struct {
	ID        string    `db:"id"`
	DedupeKey string    `db:"dedupe_key"`
	Failed    bool      `db:"failed"`
	SentAt    time.Time `db:"sent_at"`
}

// Habit accumulates pressure in Val; rewards decay as Val grows.
type Habit struct {
	ID           int64      `db:"id"`
	Owner        int64      `db:"owner_id"`
	AreaID       int64      `db:"area_id"`
	ProjectID    *int64     `db:"project_id"`
	Title        string     `db:"title"`
	Type         HabitType  `db:"type"`
	Difficulty   Difficulty `db:"difficulty"`
	UpEnabled    bool       `db:"up_enabled"`
	DownEnabled  bool       `db:"down_enabled"`
	Val          float64    `db:"val"`
	CooldownSec  int        `db:"cooldown_sec"`
	LastScoredAt *time.Time `db:"last_scored_at"`
	ArchivedAt   *time.Time `db:"archived_at"`
}

// Daily recurs per its RRule; Streak counts consecutive completed days.
type Daily struct {
	ID         int64      `db:"id"`
	Owner      int64      `db:"owner_id"`
	AreaID     int64      `db:"area_id"`
	Title      string     `db:"title"`
	RRule      string     `db:"rrule"`
	Difficulty Difficulty `db:"difficulty"`
	Streak     int        `db:"streak"`
	Frozen     bool       `db:"frozen"`
	ArchivedAt *time.Time `db:"archived_at"`
}

// DailyLog records one completion of a daily on a calendar date.
// (daily_id, date) is unique, which makes DailyDone idempotent.
type DailyLog struct {
	DailyID    int64     `db:"daily_id"`
	Date       string    `db:"date"`
	Done       bool      `db:"done"`
	RewardXP   int       `db:"reward_xp"`
	RewardGold int       `db:"reward_gold"`
}

// UserStats is the gamification ledger, created lazily on first reward.
type UserStats struct {
	Owner    int64      `db:"owner_id"`
	Level    int        `db:"level"`
	XP       int        `db:"xp"`
	Gold     int        `db:"gold"`
	HP       int        `db:"hp"`
	KP       int        `db:"kp"`
	LastCron *time.Time `db:"last_cron"`
}

// TimeEntry tracks work time. At most one entry per owner may be running
// (EndTime null), enforced by a partial unique index.
type TimeEntry struct {
	ID        int64      `db:"id"`
	Owner     int64      `db:"owner_id"`
	TaskID    *int64     `db:"task_id"`
	StartTime time.Time  `db:"start_time"`
	EndTime   *time.Time `db:"end_time"`
}

// Running reports whether the entry is still open.
func (e *TimeEntry) Running() bool { return e.EndTime == nil }

// DedupeKeyTaskReminder builds the dedupe key for one reminder firing.
func DedupeKeyTaskReminder(reminderID int64, triggerAt time.Time) string {
	return fmt.Sprintf("task-reminder:%d:%d", reminderID, triggerAt.Unix())
}

// DedupeKeyAlarm builds the dedupe key for an alarm.
func DedupeKeyAlarm(alarmID int64) string {
	return fmt.Sprintf("alarm:%d", alarmID)
}

// DedupeKeyDailyCron builds the dedupe key for one owner's daily cron run.
func DedupeKeyDailyCron(owner int64, day time.Time) string {
	return fmt.Sprintf("daily-cron:%d:%s", owner, day.Format("2006-01-02"))
}
