// Package timer tracks work time. At most one entry per owner may run at
// once; the store's partial unique index is the arbiter under concurrency.
package timer

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/paraplan/paraplan/internal/store"
)

type Service struct {
	logger zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	return &Service{logger: logger.With().Str("component", "timer").Logger()}
}

// Start opens a running entry. A second concurrent start loses the index
// race and surfaces as Conflict.
func (s *Service) Start(ctx context.Context, tx *sqlx.Tx, owner int64, taskID *int64, now time.Time) (*store.TimeEntry, error) {
	if taskID != nil {
		if _, err := store.GetTask(ctx, tx, owner, *taskID); err != nil {
			return nil, err
		}
	}

	entry, err := store.InsertTimeEntry(ctx, tx, &store.TimeEntry{
		Owner:     owner,
		TaskID:    taskID,
		StartTime: now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("owner", owner).Int64("entry", entry.ID).Msg("timer started")
	return entry, nil
}

// Stop closes the owner's running entry; NotFound when nothing is running.
func (s *Service) Stop(ctx context.Context, tx *sqlx.Tx, owner int64, now time.Time) error {
	closed, err := store.CloseTimeEntry(ctx, tx, owner, now)
	if err != nil {
		return err
	}
	if !closed {
		return &store.Error{Op: "Stop", Table: "time_entries", Kind: store.KindNotFound, Err: store.ErrNotFound}
	}
	s.logger.Debug().Int64("owner", owner).Msg("timer stopped")
	return nil
}

// Running returns the owner's open entry, or NotFound.
func (s *Service) Running(ctx context.Context, q store.Querier, owner int64) (*store.TimeEntry, error) {
	return store.GetRunningTimeEntry(ctx, q, owner)
}
