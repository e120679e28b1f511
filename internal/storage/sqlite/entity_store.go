package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.EntityTx) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &entityTx{tx: tx, clock: s.clock}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// List returns one page of rows ordered by id.
func (s *Store) List(ctx context.Context, entity *schema.Entity, limit, offset int) ([]*store.Row, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	query, args := sqlgen.List(sqlgen.SQLite, entity, limit, offset)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list "+entity.Name(), err)
	}
	defer rows.Close()

	var out []*store.Row
	for rows.Next() {
		row, err := scanRow(entity, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list "+entity.Name(), err)
	}
	return out, nil
}

type entityTx struct {
	tx    *sql.Tx
	clock clock.Clock
}

func (t *entityTx) FindOne(ctx context.Context, entity *schema.Entity, filter store.Filter) (*store.Row, error) {
	query, args := sqlgen.FindOne(sqlgen.SQLite, entity, filter)
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find "+entity.Name(), err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify("find "+entity.Name(), err)
		}
		return nil, store.ErrNotFound
	}
	return scanRow(entity, rows)
}

func (t *entityTx) Insert(ctx context.Context, row *store.Row) error {
	now := t.clock.Now()
	query, args := sqlgen.Insert(sqlgen.SQLite, row, now)
	var id int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return classify("insert "+row.Entity.Name(), err)
	}
	row.ID = id
	row.CreatedAt = now
	row.UpdatedAt = now
	return nil
}

func (t *entityTx) Update(ctx context.Context, row *store.Row) error {
	now := t.clock.Now()
	query, args := sqlgen.Update(sqlgen.SQLite, row, now)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("update "+row.Entity.Name(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s id %d: %w", row.Entity.Name(), row.ID, store.ErrNotFound)
	}
	row.UpdatedAt = now
	return nil
}

func scanRow(entity *schema.Entity, rows *sql.Rows) (*store.Row, error) {
	n := len(sqlgen.SelectColumns(entity))
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, classify("scan "+entity.Name(), err)
	}
	return sqlgen.BuildRow(entity, values)
}
