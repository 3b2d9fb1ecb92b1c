package para

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraplan/paraplan/internal/store"
)

var areaCols = []string{
	"id", "owner_id", "name", "slug", "parent_id", "mp_path", "depth",
	"review_interval_days", "is_active", "archived_at", "created_at",
}

func newMockTx(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.ExpectBegin()
	tx, err := sqlxDB.Beginx()
	require.NoError(t, err)
	return tx, mock
}

func areaRow(id, owner int64, name, slug string, parent *int64, mpPath string, depth int) []driver.Value {
	var parentVal driver.Value
	if parent != nil {
		parentVal = *parent
	}
	return []driver.Value{id, owner, name, slug, parentVal, mpPath, int64(depth), nil, true, nil, time.Now()}
}

func addAreaRow(rows *sqlmock.Rows, vals []driver.Value) *sqlmock.Rows {
	return rows.AddRow(vals...)
}

func TestCreateAreaRoot(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	mock.ExpectQuery(`SELECT slug FROM areas WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"slug"}))

	mock.ExpectQuery(`INSERT INTO areas .* RETURNING id, created_at`).
		WithArgs(int64(1), "Health", "health", nil, "health.", 0, nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), time.Now()))

	area, err := svc.CreateArea(context.Background(), tx, 1, "Health", nil)
	require.NoError(t, err)
	assert.Equal(t, "health", area.Slug)
	assert.Equal(t, "health.", area.MPPath)
	assert.Equal(t, 0, area.Depth)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAreaChildDisambiguatesSlug(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())
	parentID := int64(10)

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(parentID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(parentID, 1, "Health", "health", nil, "health.", 0)))

	mock.ExpectQuery(`SELECT slug FROM areas WHERE owner_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("health").AddRow("sleep"))

	mock.ExpectQuery(`INSERT INTO areas .* RETURNING id, created_at`).
		WithArgs(int64(1), "Sleep", "sleep-2", parentID, "health.sleep-2.", 1, nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))

	area, err := svc.CreateArea(context.Background(), tx, 1, "Sleep", &parentID)
	require.NoError(t, err)
	assert.Equal(t, "sleep-2", area.Slug)
	assert.Equal(t, "health.sleep-2.", area.MPPath)
	assert.Equal(t, 1, area.Depth)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAreaEmptyName(t *testing.T) {
	tx, _ := newMockTx(t)
	svc := NewService(zerolog.Nop())

	_, err := svc.CreateArea(context.Background(), tx, 1, "   ", nil)
	assert.True(t, store.IsValidation(err))
}

// Scenario: B moves from under A to under C; B and its subtree get their
// paths rewritten by prefix, depth follows the new parent.
func TestMoveAreaRewritesSubtree(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	aID, bID, cID := int64(1), int64(2), int64(3)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(bID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(bID, 1, "B", "b", &aID, "a.b.", 1)))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(cID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(cID, 1, "C", "c", nil, "c.", 0)))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM projects`).
		WithArgs(cID, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	subtree := sqlmock.NewRows(areaCols)
	addAreaRow(subtree, areaRow(bID, 1, "B", "b", &aID, "a.b.", 1))
	deepID := int64(4)
	addAreaRow(subtree, areaRow(deepID, 1, "Deep", "deep", &bID, "a.b.deep.", 2))
	mock.ExpectQuery(`SELECT .* FROM areas WHERE owner_id = \$1 AND mp_path LIKE \$2`).
		WithArgs(int64(1), `a.b.%`).
		WillReturnRows(subtree)

	mock.ExpectExec(`UPDATE areas SET parent_id = \$1, mp_path = \$2, depth = \$3 WHERE id = \$4`).
		WithArgs(cID, "c.b.", 1, bID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE areas SET parent_id = \$1, mp_path = \$2, depth = \$3 WHERE id = \$4`).
		WithArgs(bID, "c.b.deep.", 2, deepID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := svc.MoveArea(context.Background(), tx, 1, bID, &cID)
	require.NoError(t, err)
	assert.Equal(t, "c.b.", moved.MPPath)
	assert.Equal(t, 1, moved.Depth)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveAreaUnderOwnDescendantRejected(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	aID, childID := int64(1), int64(2)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(aID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(aID, 1, "A", "a", nil, "a.", 0)))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(childID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(childID, 1, "Child", "child", &aID, "a.child.", 1)))

	_, err := svc.MoveArea(context.Background(), tx, 1, aID, &childID)
	assert.True(t, store.IsValidation(err))
}

func TestMoveAreaUnderItselfRejected(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	aID := int64(1)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(aID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(aID, 1, "A", "a", nil, "a.", 0)))

	_, err := svc.MoveArea(context.Background(), tx, 1, aID, &aID)
	assert.True(t, store.IsValidation(err))
}

func TestMoveAreaUnderProjectAreaRejected(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	bID, xID := int64(2), int64(5)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(bID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(bID, 1, "B", "b", nil, "b.", 0)))

	mock.ExpectQuery(`SELECT .* FROM areas WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(xID, int64(1)).
		WillReturnRows(addAreaRow(sqlmock.NewRows(areaCols),
			areaRow(xID, 1, "X", "x", nil, "x.", 0)))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM projects`).
		WithArgs(xID, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := svc.MoveArea(context.Background(), tx, 1, 2, &xID)
	assert.True(t, store.IsValidation(err))
}

func TestEnsureProjectLeaf(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	t.Run("leaf passes", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM areas`).
			WithArgs(int64(1), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		assert.NoError(t, svc.EnsureProjectLeaf(context.Background(), tx, 1, 5))
	})

	t.Run("non-leaf rejected", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM areas`).
			WithArgs(int64(1), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		err := svc.EnsureProjectLeaf(context.Background(), tx, 1, 5)
		assert.True(t, store.IsValidation(err))
	})
}

func TestInheritTaskArea(t *testing.T) {
	tx, mock := newMockTx(t)
	svc := NewService(zerolog.Nop())

	projectID := int64(3)
	otherArea := int64(99)
	task := &store.Task{Owner: 1, Title: "write report", ProjectID: &projectID, AreaID: &otherArea}

	mock.ExpectQuery(`SELECT .* FROM projects WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(projectID, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "area_id", "name", "slug", "description", "status", "archived_at", "created_at",
		}).AddRow(projectID, int64(1), int64(7), "P", nil, "", "active", nil, time.Now()))

	require.NoError(t, svc.InheritTaskArea(context.Background(), tx, task))
	require.NotNil(t, task.AreaID)
	assert.Equal(t, int64(7), *task.AreaID, "independently supplied area is overridden")
}

func TestInheritTaskAreaNoProject(t *testing.T) {
	tx, _ := newMockTx(t)
	svc := NewService(zerolog.Nop())

	areaID := int64(4)
	task := &store.Task{Owner: 1, AreaID: &areaID}

	require.NoError(t, svc.InheritTaskArea(context.Background(), tx, task))
	assert.Equal(t, int64(4), *task.AreaID)
}
