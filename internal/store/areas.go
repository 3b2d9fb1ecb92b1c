package store

import (
	"context"

	"github.com/Masterminds/squirrel"
)

var areaColumns = []string{
	"id", "owner_id", "name", "slug", "parent_id", "mp_path", "depth",
	"review_interval_days", "is_active", "archived_at", "created_at",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// GetArea loads an area by id, scoped to its owner.
func GetArea(ctx context.Context, q Querier, owner, id int64) (*Area, error) {
	query, args, err := psql.Select(areaColumns...).
		From("areas").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var a Area
	if err := q.GetContext(ctx, &a, query, args...); err != nil {
		return nil, Classify(err, "GetArea", "areas")
	}
	return &a, nil
}

// ListAreas returns the owner's non-archived areas ordered by path, which
// yields a depth-first walk of the tree.
func ListAreas(ctx context.Context, q Querier, owner int64) ([]Area, error) {
	query, args, err := psql.Select(areaColumns...).
		From("areas").
		Where(squirrel.Eq{"owner_id": owner, "archived_at": nil}).
		OrderBy("mp_path").
		ToSql()
	if err != nil {
		return nil, err
	}

	var areas []Area
	if err := q.SelectContext(ctx, &areas, query, args...); err != nil {
		return nil, Classify(err, "ListAreas", "areas")
	}
	return areas, nil
}

// ListAreasByPathPrefix returns all areas whose mp_path starts with prefix,
// the subtree rooted at the area owning that prefix.
func ListAreasByPathPrefix(ctx context.Context, q Querier, owner int64, prefix string) ([]Area, error) {
	query, args, err := psql.Select(areaColumns...).
		From("areas").
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Like{"mp_path": likeEscape(prefix) + "%"}).
		OrderBy("mp_path").
		ToSql()
	if err != nil {
		return nil, err
	}

	var areas []Area
	if err := q.SelectContext(ctx, &areas, query, args...); err != nil {
		return nil, Classify(err, "ListAreasByPathPrefix", "areas")
	}
	return areas, nil
}

// ListSlugs returns every slug the owner already uses. The PARA model uses
// this to disambiguate new slugs deterministically.
func ListSlugs(ctx context.Context, q Querier, owner int64) ([]string, error) {
	query, args, err := psql.Select("slug").
		From("areas").
		Where(squirrel.Eq{"owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var slugs []string
	if err := q.SelectContext(ctx, &slugs, query, args...); err != nil {
		return nil, Classify(err, "ListSlugs", "areas")
	}
	return slugs, nil
}

// CountChildren counts non-archived children; zero means the area is a leaf.
func CountChildren(ctx context.Context, q Querier, owner, areaID int64) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("areas").
		Where(squirrel.Eq{"owner_id": owner, "parent_id": areaID, "archived_at": nil}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var n int
	if err := q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, Classify(err, "CountChildren", "areas")
	}
	return n, nil
}

// InsertArea persists a new area and returns it with the generated id.
func InsertArea(ctx context.Context, q Querier, a *Area) (*Area, error) {
	query, args, err := psql.Insert("areas").
		Columns("owner_id", "name", "slug", "parent_id", "mp_path", "depth",
			"review_interval_days", "is_active").
		Values(a.Owner, a.Name, a.Slug, a.ParentID, a.MPPath, a.Depth,
			a.ReviewIntervalDays, a.IsActive).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&a.ID, &a.CreatedAt); err != nil {
		return nil, Classify(err, "InsertArea", "areas")
	}
	return a, nil
}

// UpdateAreaPath rewrites the tree position of a single area row.
func UpdateAreaPath(ctx context.Context, q Querier, id int64, parentID *int64, mpPath string, depth int) error {
	query, args, err := psql.Update("areas").
		Set("parent_id", parentID).
		Set("mp_path", mpPath).
		Set("depth", depth).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "UpdateAreaPath", "areas")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "UpdateAreaPath", Table: "areas", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

// ArchiveArea soft-deletes an area.
func ArchiveArea(ctx context.Context, q Querier, owner, id int64) error {
	query, args, err := psql.Update("areas").
		Set("archived_at", squirrel.Expr("NOW()")).
		Set("is_active", false).
		Where(squirrel.Eq{"id": id, "owner_id": owner, "archived_at": nil}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "ArchiveArea", "areas")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "ArchiveArea", Table: "areas", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

// DeleteArea removes an area row for good. Callers must confirm every
// descendant is archived first; the FK on parent_id backs that check up.
func DeleteArea(ctx context.Context, q Querier, owner, id int64) error {
	query, args, err := psql.Delete("areas").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "DeleteArea", "areas")
	}
	return nil
}

// likeEscape escapes LIKE metacharacters in a literal prefix.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
