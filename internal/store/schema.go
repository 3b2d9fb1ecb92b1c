package store

import (
	"context"
)

const bootstrapLockName = "paraplan:bootstrap"

// Schema DDL. Soft deletes are plain archived_at columns; list queries
// filter them explicitly, there is no cascade below the database FKs.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS areas (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		parent_id BIGINT REFERENCES areas(id),
		mp_path TEXT NOT NULL,
		depth INT NOT NULL DEFAULT 0,
		review_interval_days INT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		archived_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS areas_owner_slug_idx ON areas (owner_id, slug)`,
	`CREATE INDEX IF NOT EXISTS areas_mp_path_idx ON areas (mp_path text_pattern_ops)`,

	`CREATE TABLE IF NOT EXISTS projects (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		area_id BIGINT NOT NULL REFERENCES areas(id),
		name TEXT NOT NULL,
		slug TEXT,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		archived_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS projects_owner_area_idx ON projects (owner_id, area_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS projects_owner_slug_idx ON projects (owner_id, slug) WHERE slug IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS resources (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'link',
		content TEXT NOT NULL DEFAULT '',
		project_id BIGINT REFERENCES projects(id),
		area_id BIGINT REFERENCES areas(id),
		archived_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (project_id IS NOT NULL OR area_id IS NOT NULL)
	)`,

	`CREATE TABLE IF NOT EXISTS notes (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		title TEXT,
		content TEXT NOT NULL DEFAULT '',
		container_type TEXT,
		container_id BIGINT,
		pinned BOOLEAN NOT NULL DEFAULT FALSE,
		position INT NOT NULL DEFAULT 0,
		archived_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((container_type IS NULL) = (container_id IS NULL))
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'todo',
		due_date TIMESTAMPTZ,
		project_id BIGINT REFERENCES projects(id),
		area_id BIGINT REFERENCES areas(id),
		estimate_minutes INT,
		cognitive_cost DOUBLE PRECISION,
		control_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		control_frequency_minutes INT,
		control_status TEXT NOT NULL DEFAULT 'active',
		remind_policy TEXT,
		is_watched BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (project_id IS NOT NULL OR area_id IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_owner_project_idx ON tasks (owner_id, project_id)`,
	`CREATE INDEX IF NOT EXISTS tasks_owner_area_idx ON tasks (owner_id, area_id)`,
	`CREATE INDEX IF NOT EXISTS tasks_status_due_idx ON tasks (status, due_date)`,

	`CREATE TABLE IF NOT EXISTS task_reminders (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks(id),
		owner_id BIGINT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'manual',
		trigger_at TIMESTAMPTZ NOT NULL,
		frequency_minutes INT,
		payload TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_triggered_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS task_watchers (
		task_id BIGINT NOT NULL REFERENCES tasks(id),
		watcher_id BIGINT NOT NULL,
		added_by BIGINT NOT NULL,
		state TEXT NOT NULL DEFAULT 'active',
		left_reason TEXT,
		left_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS task_watchers_active_idx ON task_watchers (task_id, watcher_id) WHERE state = 'active'`,

	`CREATE TABLE IF NOT EXISTS calendar_items (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		project_id BIGINT REFERENCES projects(id),
		area_id BIGINT REFERENCES areas(id),
		title TEXT NOT NULL,
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'planned'
	)`,

	`CREATE TABLE IF NOT EXISTS alarms (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES calendar_items(id),
		trigger_at TIMESTAMPTZ NOT NULL,
		is_sent BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS notification_triggers (
		id BIGSERIAL PRIMARY KEY,
		next_fire_at TIMESTAMPTZ NOT NULL,
		alarm_id BIGINT REFERENCES alarms(id),
		rule TEXT NOT NULL DEFAULT '{}',
		dedupe_key TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notification_triggers_fire_idx ON notification_triggers (next_fire_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notification_triggers_dedupe_idx ON notification_triggers (dedupe_key)`,

	`CREATE TABLE IF NOT EXISTS notification_deliveries (
		id UUID PRIMARY KEY,
		dedupe_key TEXT NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notification_deliveries_dedupe_idx ON notification_deliveries (dedupe_key)`,

	`CREATE TABLE IF NOT EXISTS habits (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		area_id BIGINT NOT NULL REFERENCES areas(id),
		project_id BIGINT REFERENCES projects(id),
		title TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'both',
		difficulty TEXT NOT NULL DEFAULT 'easy',
		up_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		down_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		val DOUBLE PRECISION NOT NULL DEFAULT 0,
		cooldown_sec INT NOT NULL DEFAULT 0,
		last_scored_at TIMESTAMPTZ,
		archived_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS dailies (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		area_id BIGINT NOT NULL REFERENCES areas(id),
		title TEXT NOT NULL,
		rrule TEXT NOT NULL DEFAULT 'FREQ=DAILY',
		difficulty TEXT NOT NULL DEFAULT 'easy',
		streak INT NOT NULL DEFAULT 0,
		frozen BOOLEAN NOT NULL DEFAULT FALSE,
		archived_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS daily_logs (
		daily_id BIGINT NOT NULL REFERENCES dailies(id),
		date DATE NOT NULL,
		done BOOLEAN NOT NULL DEFAULT TRUE,
		reward_xp INT NOT NULL DEFAULT 0,
		reward_gold INT NOT NULL DEFAULT 0,
		PRIMARY KEY (daily_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS user_stats (
		owner_id BIGINT PRIMARY KEY,
		level INT NOT NULL DEFAULT 1,
		xp INT NOT NULL DEFAULT 0,
		gold INT NOT NULL DEFAULT 0,
		hp INT NOT NULL DEFAULT 50,
		kp INT NOT NULL DEFAULT 0,
		last_cron TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS notification_channels (
		owner_id BIGINT NOT NULL,
		channel TEXT NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (owner_id, channel)
	)`,

	`CREATE TABLE IF NOT EXISTS time_entries (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		task_id BIGINT REFERENCES tasks(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS time_entries_running_idx ON time_entries (owner_id) WHERE end_time IS NULL`,
}

// Bootstrap applies the schema. A global advisory lock keeps parallel
// workers from racing on DDL during startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	return s.WithAdvisoryLock(ctx, bootstrapLockName, func() error {
		for _, stmt := range schemaStatements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return Classify(err, "Bootstrap", "")
			}
		}
		s.logger.Info().Int("statements", len(schemaStatements)).Msg("schema bootstrap complete")
		return nil
	})
}
