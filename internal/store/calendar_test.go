package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCalendarItem(t *testing.T) {
	db, mock := newMockQuerier(t)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, owner_id, project_id, area_id, title, start_at, end_at, status FROM calendar_items WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(6), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "project_id", "area_id",
			"title", "start_at", "end_at", "status"}).
			AddRow(int64(6), int64(1), nil, nil, "Standup", start, nil, "planned"))

	item, err := GetCalendarItem(context.Background(), db, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, "Standup", item.Title)
	assert.Equal(t, ItemPlanned, item.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCalendarItemWrongOwner(t *testing.T) {
	db, mock := newMockQuerier(t)

	mock.ExpectQuery(`SELECT id, owner_id, project_id, area_id, title, start_at, end_at, status FROM calendar_items WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(6), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := GetCalendarItem(context.Background(), db, 2, 6)
	assert.True(t, IsNotFound(err))
}

func TestGetAlarm(t *testing.T) {
	db, mock := newMockQuerier(t)

	at := time.Date(2026, 3, 1, 8, 45, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, item_id, trigger_at, is_sent FROM alarms WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "item_id", "trigger_at", "is_sent"}).
			AddRow(int64(3), int64(6), at, false))

	alarm, err := GetAlarm(context.Background(), db, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(6), alarm.ItemID)
	assert.False(t, alarm.IsSent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
