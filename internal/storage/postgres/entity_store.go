package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.EntityTx) error) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return classify("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(ctx, &entityTx{tx: tx, clock: s.clock}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		committed = true
		return classify("commit tx", err)
	}
	committed = true
	return nil
}

// List returns one page of rows ordered by id.
func (s *Store) List(ctx context.Context, entity *schema.Entity, limit, offset int) ([]*store.Row, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}
	query, args := sqlgen.List(sqlgen.Postgres, entity, limit, offset)
	rows, err := pool.Query(ctx, query, args...)
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
	tx    pgx.Tx
	clock clock.Clock
}

func (t *entityTx) FindOne(ctx context.Context, entity *schema.Entity, filter store.Filter) (*store.Row, error) {
	query, args := sqlgen.FindOne(sqlgen.Postgres, entity, filter)
	rows, err := t.tx.Query(ctx, query, args...)
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
	query, args := sqlgen.Insert(sqlgen.Postgres, row, now)
	var id int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return classify("insert "+row.Entity.Name(), err)
	}
	row.ID = id
	row.CreatedAt = now
	row.UpdatedAt = now
	return nil
}

func (t *entityTx) Update(ctx context.Context, row *store.Row) error {
	now := t.clock.Now()
	query, args := sqlgen.Update(sqlgen.Postgres, row, now)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return classify("update "+row.Entity.Name(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s id %d: %w", row.Entity.Name(), row.ID, store.ErrNotFound)
	}
	row.UpdatedAt = now
	return nil
}

func scanRow(entity *schema.Entity, rows pgx.Rows) (*store.Row, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, classify("scan "+entity.Name(), err)
	}
	return sqlgen.BuildRow(entity, values)
}
