package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQuerier(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestGetTriggerByDedupeKey(t *testing.T) {
	db, mock := newMockQuerier(t)

	fireAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, next_fire_at, alarm_id, rule, dedupe_key FROM notification_triggers WHERE dedupe_key = \$1`).
		WithArgs("daily-cron:3:2026-03-02").
		WillReturnRows(sqlmock.NewRows([]string{"id", "next_fire_at", "alarm_id", "rule", "dedupe_key"}).
			AddRow(int64(11), fireAt, nil, `{"kind":"daily_cron","owner":3}`, "daily-cron:3:2026-03-02"))

	trigger, err := GetTriggerByDedupeKey(context.Background(), db, "daily-cron:3:2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(11), trigger.ID)
	assert.Equal(t, fireAt, trigger.NextFireAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTriggerByDedupeKeyMissing(t *testing.T) {
	db, mock := newMockQuerier(t)

	mock.ExpectQuery(`SELECT id, next_fire_at, alarm_id, rule, dedupe_key FROM notification_triggers WHERE dedupe_key = \$1`).
		WithArgs("alarm:99").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := GetTriggerByDedupeKey(context.Background(), db, "alarm:99")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
