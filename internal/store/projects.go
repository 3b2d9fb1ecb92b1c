package store

import (
	"context"

	"github.com/Masterminds/squirrel"
)

var projectColumns = []string{
	"id", "owner_id", "area_id", "name", "slug", "description", "status",
	"archived_at", "created_at",
}

// GetProject loads a project by id, scoped to its owner.
func GetProject(ctx context.Context, q Querier, owner, id int64) (*Project, error) {
	query, args, err := psql.Select(projectColumns...).
		From("projects").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var p Project
	if err := q.GetContext(ctx, &p, query, args...); err != nil {
		return nil, Classify(err, "GetProject", "projects")
	}
	return &p, nil
}

// ListProjectsByArea returns the owner's non-archived projects in an area.
func ListProjectsByArea(ctx context.Context, q Querier, owner, areaID int64) ([]Project, error) {
	query, args, err := psql.Select(projectColumns...).
		From("projects").
		Where(squirrel.Eq{"owner_id": owner, "area_id": areaID, "archived_at": nil}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := q.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, Classify(err, "ListProjectsByArea", "projects")
	}
	return projects, nil
}

// CountProjectsByArea counts live projects referencing an area. MoveArea
// uses this to refuse turning a project's area into a non-leaf.
func CountProjectsByArea(ctx context.Context, q Querier, owner, areaID int64) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("projects").
		Where(squirrel.Eq{"owner_id": owner, "area_id": areaID, "archived_at": nil}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var n int
	if err := q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, Classify(err, "CountProjectsByArea", "projects")
	}
	return n, nil
}

// InsertProject persists a new project and returns it with the generated id.
func InsertProject(ctx context.Context, q Querier, p *Project) (*Project, error) {
	query, args, err := psql.Insert("projects").
		Columns("owner_id", "area_id", "name", "slug", "description", "status").
		Values(p.Owner, p.AreaID, p.Name, p.Slug, p.Description, p.Status).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, Classify(err, "InsertProject", "projects")
	}
	return p, nil
}

// UpdateProject rewrites the mutable fields of a project.
func UpdateProject(ctx context.Context, q Querier, p *Project) error {
	query, args, err := psql.Update("projects").
		Set("area_id", p.AreaID).
		Set("name", p.Name).
		Set("slug", p.Slug).
		Set("description", p.Description).
		Set("status", p.Status).
		Set("archived_at", p.ArchivedAt).
		Where(squirrel.Eq{"id": p.ID, "owner_id": p.Owner}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "UpdateProject", "projects")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "UpdateProject", Table: "projects", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

// InsertResource persists a resource. A resource must be attached to at
// least one of project/area; the schema CHECK backs this up, but catching
// it here keeps the error a Validation instead of a driver error.
func InsertResource(ctx context.Context, q Querier, r *Resource) (*Resource, error) {
	if r.ProjectID == nil && r.AreaID == nil {
		return nil, Validationf("InsertResource", "resources", "resource needs a project or an area")
	}

	query, args, err := psql.Insert("resources").
		Columns("owner_id", "title", "type", "content", "project_id", "area_id").
		Values(r.Owner, r.Title, r.Type, r.Content, r.ProjectID, r.AreaID).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&r.ID, &r.CreatedAt); err != nil {
		return nil, Classify(err, "InsertResource", "resources")
	}
	return r, nil
}

// GetResource loads a resource by id, scoped to its owner.
func GetResource(ctx context.Context, q Querier, owner, id int64) (*Resource, error) {
	query, args, err := psql.Select("id", "owner_id", "title", "type", "content",
		"project_id", "area_id", "archived_at", "created_at").
		From("resources").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var r Resource
	if err := q.GetContext(ctx, &r, query, args...); err != nil {
		return nil, Classify(err, "GetResource", "resources")
	}
	return &r, nil
}

// InsertNote persists a note. Both container fields must be set together;
// an uncontained note lives in the owner's inbox.
func InsertNote(ctx context.Context, q Querier, n *Note) (*Note, error) {
	if (n.ContainerType == nil) != (n.ContainerID == nil) {
		return nil, Validationf("InsertNote", "notes", "container type and id must be set together")
	}

	query, args, err := psql.Insert("notes").
		Columns("owner_id", "title", "content", "container_type", "container_id",
			"pinned", "position").
		Values(n.Owner, n.Title, n.Content, n.ContainerType, n.ContainerID,
			n.Pinned, n.Position).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&n.ID, &n.CreatedAt); err != nil {
		return nil, Classify(err, "InsertNote", "notes")
	}
	return n, nil
}

// ListInboxNotes returns the owner's uncontained, non-archived notes.
func ListInboxNotes(ctx context.Context, q Querier, owner int64) ([]Note, error) {
	query, args, err := psql.Select("id", "owner_id", "title", "content",
		"container_type", "container_id", "pinned", "position", "archived_at", "created_at").
		From("notes").
		Where(squirrel.Eq{"owner_id": owner, "container_type": nil, "archived_at": nil}).
		OrderBy("pinned DESC", "position", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var notes []Note
	if err := q.SelectContext(ctx, &notes, query, args...); err != nil {
		return nil, Classify(err, "ListInboxNotes", "notes")
	}
	return notes, nil
}
