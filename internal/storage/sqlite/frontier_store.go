package sqlite

import (
	"context"
	"database/sql"

	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlgen"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// PutPending upserts a frontier entry as not completed.
func (s *Store) PutPending(ctx context.Context, entry store.FrontierEntry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, sqlgen.PutPending(sqlgen.SQLite),
		entry.CrawlName, entry.TargetHash, entry.Target, entry.ResumeTag, s.clock.Now())
	if err != nil {
		return classify("put pending", err)
	}
	return nil
}

// MarkCompleted flags an entry completed.
func (s *Store) MarkCompleted(ctx context.Context, crawlName, targetHash string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, sqlgen.MarkCompleted(sqlgen.SQLite), s.clock.Now(), crawlName, targetHash)
	if err != nil {
		return false, classify("mark completed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("mark completed", err)
	}
	return n > 0, nil
}

// ScanPending streams pending entries of a crawl. The single connection is
// held until the scan ends, so yield must not call back into the store.
func (s *Store) ScanPending(ctx context.Context, crawlName string, yield func(store.FrontierEntry) bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, sqlgen.SelectPending(sqlgen.SQLite, false), crawlName)
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
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	if limit > 0 {
		rows, err = db.QueryContext(ctx, sqlgen.SelectPending(sqlgen.SQLite, true), crawlName, limit)
	} else {
		rows, err = db.QueryContext(ctx, sqlgen.SelectPending(sqlgen.SQLite, false), crawlName)
	}
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

func scanEntry(rows *sql.Rows) (store.FrontierEntry, error) {
	var (
		e       store.FrontierEntry
		updated any
	)
	if err := rows.Scan(&e.CrawlName, &e.TargetHash, &e.Target, &e.ResumeTag, &e.Completed, &updated); err != nil {
		return store.FrontierEntry{}, classify("scan frontier entry", err)
	}
	ts, err := sqlgen.ParseTime(updated)
	if err != nil {
		return store.FrontierEntry{}, classify("scan frontier entry", err)
	}
	e.UpdatedAt = ts
	return e, nil
}
