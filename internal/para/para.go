// Package para maintains the Area tree and the cross-entity invariants of
// the knowledge model: materialized paths, leaf-only projects, and
// project-to-task area inheritance.
package para

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/paraplan/paraplan/internal/store"
)

// Service runs PARA tree operations. Every method takes the caller's
// transaction; the service never commits.
type Service struct {
	logger zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	return &Service{logger: logger.With().Str("component", "para").Logger()}
}

func areaMoveLock(owner int64) string {
	return fmt.Sprintf("paraplan:area-move:%d", owner)
}

// CreateArea allocates a slug for name, derives mp_path and depth from the
// parent, and inserts the area.
func (s *Service) CreateArea(ctx context.Context, tx *sqlx.Tx, owner int64, name string, parentID *int64) (*store.Area, error) {
	if strings.TrimSpace(name) == "" {
		return nil, store.Validationf("CreateArea", "areas", "empty area name")
	}

	var parent *store.Area
	if parentID != nil {
		var err error
		parent, err = store.GetArea(ctx, tx, owner, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.ArchivedAt != nil {
			return nil, store.Validationf("CreateArea", "areas", "parent area %d is archived", parent.ID)
		}
	}

	slugs, err := store.ListSlugs(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(slugs))
	for _, sl := range slugs {
		taken[sl] = true
	}
	slug := DisambiguateSlug(name, taken)

	area := &store.Area{
		Owner:    owner,
		Name:     name,
		Slug:     slug,
		ParentID: parentID,
		IsActive: true,
	}
	if parent != nil {
		area.MPPath = parent.MPPath + slug + "."
		area.Depth = parent.Depth + 1
	} else {
		area.MPPath = slug + "."
		area.Depth = 0
	}

	area, err = store.InsertArea(ctx, tx, area)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Int64("owner", owner).Str("slug", slug).Str("mp_path", area.MPPath).Msg("area created")
	return area, nil
}

// MoveArea reparents an area and rewrites the mp_path and depth of the
// whole subtree. The move is rejected when the new parent sits inside the
// moved subtree, crosses owners, or is an area that carries projects
// (projects may only live on leaves). A per-owner advisory lock serializes
// concurrent moves so two rewrites never interleave.
func (s *Service) MoveArea(ctx context.Context, tx *sqlx.Tx, owner, areaID int64, newParentID *int64) (*store.Area, error) {
	if err := store.AdvisoryXactLock(ctx, tx, areaMoveLock(owner)); err != nil {
		return nil, err
	}

	area, err := store.GetArea(ctx, tx, owner, areaID)
	if err != nil {
		return nil, err
	}

	oldPrefix := area.MPPath
	var newParent *store.Area
	if newParentID != nil {
		if *newParentID == area.ID {
			return nil, store.Validationf("MoveArea", "areas", "cannot move area under itself")
		}
		newParent, err = store.GetArea(ctx, tx, owner, *newParentID)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(newParent.MPPath, oldPrefix) {
			return nil, store.Validationf("MoveArea", "areas",
				"cannot move area %d under its own descendant %d", area.ID, newParent.ID)
		}
		nProjects, err := store.CountProjectsByArea(ctx, tx, owner, newParent.ID)
		if err != nil {
			return nil, err
		}
		if nProjects > 0 {
			return nil, store.Validationf("MoveArea", "areas",
				"area %d carries projects and cannot gain children", newParent.ID)
		}
	}

	var newPrefix string
	var depthShift int
	if newParent != nil {
		newPrefix = newParent.MPPath + area.Slug + "."
		depthShift = newParent.Depth + 1 - area.Depth
	} else {
		newPrefix = area.Slug + "."
		depthShift = -area.Depth
	}

	subtree, err := store.ListAreasByPathPrefix(ctx, tx, owner, oldPrefix)
	if err != nil {
		return nil, err
	}

	for i := range subtree {
		node := &subtree[i]
		rewritten := newPrefix + strings.TrimPrefix(node.MPPath, oldPrefix)
		parent := node.ParentID
		if node.ID == area.ID {
			parent = newParentID
		}
		if err := store.UpdateAreaPath(ctx, tx, node.ID, parent, rewritten, node.Depth+depthShift); err != nil {
			return nil, err
		}
		node.MPPath = rewritten
		node.Depth += depthShift
		node.ParentID = parent
	}

	s.logger.Info().Int64("owner", owner).Int64("area", areaID).
		Str("old_prefix", oldPrefix).Str("new_prefix", newPrefix).
		Int("subtree", len(subtree)).Msg("area moved")

	area.MPPath = newPrefix
	area.ParentID = newParentID
	area.Depth += depthShift
	return area, nil
}

// IsLeaf reports whether the area has no live children with the same owner.
func (s *Service) IsLeaf(ctx context.Context, q store.Querier, owner, areaID int64) (bool, error) {
	n, err := store.CountChildren(ctx, q, owner, areaID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// ListSubtree returns an area and all of its descendants in path order.
func (s *Service) ListSubtree(ctx context.Context, q store.Querier, owner, areaID int64) ([]store.Area, error) {
	area, err := store.GetArea(ctx, q, owner, areaID)
	if err != nil {
		return nil, err
	}
	return store.ListAreasByPathPrefix(ctx, q, owner, area.MPPath)
}

// EnsureProjectLeaf rejects placing a project on a non-leaf area.
func (s *Service) EnsureProjectLeaf(ctx context.Context, q store.Querier, owner, areaID int64) error {
	leaf, err := s.IsLeaf(ctx, q, owner, areaID)
	if err != nil {
		return err
	}
	if !leaf {
		return store.Validationf("EnsureProjectLeaf", "projects", "area %d is not a leaf", areaID)
	}
	return nil
}

// CreateProject validates the leaf rule and inserts the project.
func (s *Service) CreateProject(ctx context.Context, tx *sqlx.Tx, p *store.Project) (*store.Project, error) {
	if _, err := store.GetArea(ctx, tx, p.Owner, p.AreaID); err != nil {
		return nil, err
	}
	if err := s.EnsureProjectLeaf(ctx, tx, p.Owner, p.AreaID); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = store.ProjectActive
	}
	return store.InsertProject(ctx, tx, p)
}

// InheritTaskArea forces task.area to follow the project's area whenever a
// project is set. An independently supplied area is overwritten.
func (s *Service) InheritTaskArea(ctx context.Context, q store.Querier, t *store.Task) error {
	if t.ProjectID == nil {
		return nil
	}
	p, err := store.GetProject(ctx, q, t.Owner, *t.ProjectID)
	if err != nil {
		return err
	}
	t.AreaID = &p.AreaID
	return nil
}

// InheritResourceArea mirrors InheritTaskArea for resources.
func (s *Service) InheritResourceArea(ctx context.Context, q store.Querier, r *store.Resource) error {
	if r.ProjectID == nil {
		return nil
	}
	p, err := store.GetProject(ctx, q, r.Owner, *r.ProjectID)
	if err != nil {
		return err
	}
	r.AreaID = &p.AreaID
	return nil
}

// CreateTask resolves inheritance and inserts the task.
func (s *Service) CreateTask(ctx context.Context, tx *sqlx.Tx, t *store.Task) (*store.Task, error) {
	if err := s.InheritTaskArea(ctx, tx, t); err != nil {
		return nil, err
	}
	if t.Status == "" {
		t.Status = store.TaskTodo
	}
	if t.ControlStatus == "" {
		t.ControlStatus = store.ControlActive
	}
	return store.InsertTask(ctx, tx, t)
}

// UpdateTask re-resolves inheritance before persisting an edit.
func (s *Service) UpdateTask(ctx context.Context, tx *sqlx.Tx, t *store.Task) error {
	if err := s.InheritTaskArea(ctx, tx, t); err != nil {
		return err
	}
	return store.UpdateTask(ctx, tx, t)
}

// DeleteArea archives the area, or removes the subtree physically when
// every descendant is already archived.
func (s *Service) DeleteArea(ctx context.Context, tx *sqlx.Tx, owner, areaID int64) error {
	if err := store.AdvisoryXactLock(ctx, tx, areaMoveLock(owner)); err != nil {
		return err
	}

	subtree, err := s.ListSubtree(ctx, tx, owner, areaID)
	if err != nil {
		return err
	}

	for _, node := range subtree {
		if node.ID != areaID && node.ArchivedAt == nil {
			return s.archiveOnly(ctx, tx, owner, areaID)
		}
	}

	// Children first so the parent FK never dangles.
	for i := len(subtree) - 1; i >= 0; i-- {
		if err := store.DeleteArea(ctx, tx, owner, subtree[i].ID); err != nil {
			return err
		}
	}
	s.logger.Info().Int64("owner", owner).Int64("area", areaID).Int("removed", len(subtree)).Msg("area subtree deleted")
	return nil
}

func (s *Service) archiveOnly(ctx context.Context, tx *sqlx.Tx, owner, areaID int64) error {
	if err := store.ArchiveArea(ctx, tx, owner, areaID); err != nil {
		return err
	}
	s.logger.Debug().Int64("owner", owner).Int64("area", areaID).Msg("area archived, live descendants remain")
	return nil
}
