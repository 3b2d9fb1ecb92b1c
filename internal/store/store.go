package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Config configures the database connection pool.
type Config struct {
	URL             string
	ConnMaxLifetime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	RetryAttempts   int
	RetryBase       time.Duration
}

// NewConfig returns a Config with pool defaults.
func NewConfig(url string) *Config {
	return &Config{
		URL:             url,
		ConnMaxLifetime: 10 * time.Minute,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		RetryAttempts:   3,
		RetryBase:       100 * time.Millisecond,
	}
}

// Store owns the database connection and is the transactional boundary for
// every other component.
type Store struct {
	db     *sqlx.DB
	cfg    *Config
	logger zerolog.Logger
}

// Open connects to Postgres, tunes the pool, and verifies the connection.
func Open(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify(fmt.Errorf("failed to ping database: %w", err), "Open", "")
	}

	if _, err := db.ExecContext(ctx, "SET statement_timeout = '300s'"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	return &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sqlx.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		cfg:    NewConfig(""),
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB returns the underlying connection for raw queries.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithTx executes fn within a transaction. The transaction is rolled back
// on error and on panic; commit failures are classified like any other
// store error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin transaction: %w", err), "WithTx", "")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("failed to commit: %w", err), "WithTx", "")
	}

	return nil
}

// WithRetry runs fn, retrying Transient failures with exponential backoff.
// Validation, Conflict and NotFound surface immediately.
func (s *Store) WithRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := s.cfg.RetryBase
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying after transient store error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx. Service
// functions take a Querier so they compose inside or outside a transaction.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// lockKey hashes an advisory mutex name into the int64 space Postgres
// advisory locks use.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AdvisoryXactLock takes a transaction-scoped advisory lock; it is released
// automatically at commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx *sqlx.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(name)); err != nil {
		return Classify(err, "AdvisoryXactLock", "")
	}
	return nil
}

// WithAdvisoryLock runs fn while holding a session-scoped advisory lock.
// The lock lives on a pinned connection; session locks taken through the
// pool would lock one connection and unlock another.
func (s *Store) WithAdvisoryLock(ctx context.Context, name string, fn func() error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return Classify(err, "WithAdvisoryLock", "")
	}
	defer conn.Close()

	key := lockKey(name)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return Classify(err, "WithAdvisoryLock", "")
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key)

	return fn()
}
