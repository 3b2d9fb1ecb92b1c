package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListProjectsByArea(t *testing.T) {
	db, mock := newMockQuerier(t)

	created := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, owner_id, area_id, name, slug, description, status, archived_at, created_at FROM projects WHERE archived_at IS NULL AND area_id = \$1 AND owner_id = \$2 ORDER BY id`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "area_id", "name", "slug",
			"description", "status", "archived_at", "created_at"}).
			AddRow(int64(20), int64(1), int64(5), "Write a book", "write-book", "", "active", nil, created))

	projects, err := ListProjectsByArea(context.Background(), db, 1, 5)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Write a book", projects[0].Name)
	assert.Equal(t, ProjectActive, projects[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResource(t *testing.T) {
	db, mock := newMockQuerier(t)

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, owner_id, title, type, content, project_id, area_id, archived_at, created_at FROM resources WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(8), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "title", "type", "content",
			"project_id", "area_id", "archived_at", "created_at"}).
			AddRow(int64(8), int64(1), "Style guide", "link", "https://example.org", nil, int64(5), nil, created))

	r, err := GetResource(context.Background(), db, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, "Style guide", r.Title)
	require.NotNil(t, r.AreaID)
	assert.Equal(t, int64(5), *r.AreaID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResourceMissing(t *testing.T) {
	db, mock := newMockQuerier(t)

	mock.ExpectQuery(`SELECT id, owner_id, title, type, content, project_id, area_id, archived_at, created_at FROM resources WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(int64(8), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := GetResource(context.Background(), db, 2, 8)
	assert.True(t, IsNotFound(err))
}
