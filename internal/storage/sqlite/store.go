// Package sqlite provides SQLite-backed entity and frontier stores using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/clock/system"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// Config locates the database file.
type Config struct {
	// Path is a file path or ":memory:".
	Path        string
	BusyTimeout time.Duration
}

// Store implements store.EntityStore and store.FrontierStore.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	clock clock.Clock
}

var (
	_ store.EntityStore   = (*Store)(nil)
	_ store.FrontierStore = (*Store)(nil)
)

// Open opens the database and applies connection pragmas. A nil clock uses
// the wall clock truncated to seconds.
func Open(ctx context.Context, cfg Config, clk clock.Clock) (*Store, error) {
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = system.New(time.Second)
	}
	return &Store{db: db, clock: clk}, nil
}

func open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database
	// alive for the life of the handle.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping sqlite", err)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
	}
	if cfg.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Reconnect reopens the database from cfg and closes the old handle.
func (s *Store) Reconnect(ctx context.Context, cfg Config) error {
	db, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("sqlite store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("sqlite store is closed")
	}
	return s.db, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// Migrate creates the entity tables, their indexes and the frontier table.
func (s *Store) Migrate(ctx context.Context, entities []*schema.Entity) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	stmts := make([]string, 0, len(entities)*2+2)
	for _, e := range entities {
		stmts = append(stmts, sqlgen.CreateTable(sqlgen.SQLite, e))
		stmts = append(stmts, sqlgen.CreateIndexes(e)...)
	}
	stmts = append(stmts, sqlgen.CreateFrontier(sqlgen.SQLite), sqlgen.CreateFrontierIndex())
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// classify maps driver errors onto the store error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w: %w", op, store.ErrIntegrity, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR:
			return fmt.Errorf("%s: %w: %w", op, store.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if strings.Contains(err.Error(), "constraint failed") {
		return fmt.Errorf("%s: %w: %w", op, store.ErrIntegrity, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
