// Package postgres provides Postgres-backed entity and frontier stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/clock/system"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store implements store.EntityStore and store.FrontierStore.
type Store struct {
	mu    sync.RWMutex
	pool  pgxPool
	clock clock.Clock
}

var (
	_ store.EntityStore   = (*Store)(nil)
	_ store.FrontierStore = (*Store)(nil)
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, clock: system.New(time.Second)}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). A nil clock uses the wall clock.
func NewWithPool(pool pgxPool, clk clock.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clk == nil {
		clk = system.New(time.Second)
	}
	return &Store{pool: pool, clock: clk}, nil
}

func connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping postgres", err)
	}
	return pool, nil
}

// Reconnect replaces the pool with a fresh one built from cfg and closes the
// old pool. Calls already holding the old pool finish on it.
func (s *Store) Reconnect(ctx context.Context, cfg Config) error {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	s.swap(pool)
	return nil
}

func (s *Store) swap(pool pgxPool) {
	s.mu.Lock()
	old := s.pool
	s.pool = pool
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Store) conn() (pgxPool, error) {
	if s == nil {
		return nil, fmt.Errorf("postgres store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil, fmt.Errorf("postgres store is closed")
	}
	return s.pool, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	return nil
}

// Migrate creates the entity tables, their indexes and the frontier table.
func (s *Store) Migrate(ctx context.Context, entities []*schema.Entity) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}
	stmts := make([]string, 0, len(entities)*2+2)
	for _, e := range entities {
		stmts = append(stmts, sqlgen.CreateTable(sqlgen.Postgres, e))
		stmts = append(stmts, sqlgen.CreateIndexes(e)...)
	}
	stmts = append(stmts, sqlgen.CreateFrontier(sqlgen.Postgres), sqlgen.CreateFrontierIndex())
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// transientCodes are SQLSTATEs outside class 08 worth retrying later.
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"53300": {}, // too_many_connections
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

// classify maps driver errors onto the store error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "23") {
			return fmt.Errorf("%s: %w: %w", op, store.ErrIntegrity, err)
		}
		if _, ok := transientCodes[pgErr.Code]; ok || strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%s: %w: %w", op, store.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
