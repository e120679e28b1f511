package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// PutPending upserts a frontier entry as not completed.
func (s *Store) PutPending(ctx context.Context, entry store.FrontierEntry) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, sqlgen.PutPending(sqlgen.Postgres),
		entry.CrawlName, entry.TargetHash, entry.Target, entry.ResumeTag, s.clock.Now())
	if err != nil {
		return classify("put pending", err)
	}
	return nil
}

// MarkCompleted flags an entry completed.
func (s *Store) MarkCompleted(ctx context.Context, crawlName, targetHash string) (bool, error) {
	pool, err := s.conn()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, sqlgen.MarkCompleted(sqlgen.Postgres), s.clock.Now(), crawlName, targetHash)
	if err != nil {
		return false, classify("mark completed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ScanPending streams pending entries of a crawl.
func (s *Store) ScanPending(ctx context.Context, crawlName string, yield func(store.FrontierEntry) bool) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}
	rows, err := pool.Query(ctx, sqlgen.SelectPending(sqlgen.Postgres, false), crawlName)
	if err != nil {
		return classify("scan pending", err)
	}
	defer rows.Close()
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if !yield(entry) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return classify("scan pending", err)
	}
	return nil
}

// ListPending returns up to limit pending entries.
func (s *Store) ListPending(ctx context.Context, crawlName string, limit int) ([]store.FrontierEntry, error) {
	if limit <= 0 {
		var out []store.FrontierEntry
		err := s.ScanPending(ctx, crawlName, func(e store.FrontierEntry) bool {
			out = append(out, e)
			return true
		})
		return out, err
	}
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sqlgen.SelectPending(sqlgen.Postgres, true), crawlName, limit)
	if err != nil {
		return nil, classify("list pending", err)
	}
	defer rows.Close()
	var out []store.FrontierEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list pending", err)
	}
	return out, nil
}

func scanEntry(rows pgx.Rows) (store.FrontierEntry, error) {
	var e store.FrontierEntry
	if err := rows.Scan(&e.CrawlName, &e.TargetHash, &e.Target, &e.ResumeTag, &e.Completed, &e.UpdatedAt); err != nil {
		return store.FrontierEntry{}, classify("scan frontier entry", err)
	}
	return e, nil
}
