package sqlgen

import (
	"fmt"
	"strings"
	"time"
)

// FrontierTable is the name of the frontier table.
const FrontierTable = "frontier"

// CreateFrontier renders the frontier DDL.
func CreateFrontier(d Dialect) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"crawl_name" TEXT NOT NULL,
	"target_hash" TEXT NOT NULL,
	"target" TEXT NOT NULL,
	"resume_tag" TEXT NOT NULL DEFAULT '',
	"completed" BOOLEAN NOT NULL DEFAULT FALSE,
	"updated_at" %s NOT NULL,
	PRIMARY KEY ("crawl_name", "target_hash")
)`, Quote(FrontierTable), d.TimestampType())
}

// CreateFrontierIndex speeds up pending scans.
func CreateFrontierIndex() string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "frontier_pending_idx" ON %s ("crawl_name", "completed")`, Quote(FrontierTable))
}

// PutPending renders the frontier upsert. Arguments: crawl name, target hash,
// target, resume tag, timestamp.
func PutPending(d Dialect) string {
	return fmt.Sprintf(`INSERT INTO %s ("crawl_name", "target_hash", "target", "resume_tag", "completed", "updated_at") `+
		`VALUES (%s, FALSE, %s) `+
		`ON CONFLICT ("crawl_name", "target_hash") DO UPDATE SET `+
		`"target" = excluded."target", "resume_tag" = excluded."resume_tag", "completed" = FALSE, "updated_at" = excluded."updated_at"`,
		Quote(FrontierTable), placeholders(d, 1, 4), d.Placeholder(5))
}

// MarkCompleted renders the completion update. Arguments: timestamp, crawl
// name, target hash.
func MarkCompleted(d Dialect) string {
	return fmt.Sprintf(`UPDATE %s SET "completed" = TRUE, "updated_at" = %s WHERE "crawl_name" = %s AND "target_hash" = %s`,
		Quote(FrontierTable), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
}

// SelectPending renders the pending scan. Arguments: crawl name, and limit
// when withLimit is set.
func SelectPending(d Dialect, withLimit bool) string {
	query := fmt.Sprintf(`SELECT "crawl_name", "target_hash", "target", "resume_tag", "completed", "updated_at" FROM %s `+
		`WHERE "crawl_name" = %s AND "completed" = FALSE ORDER BY "updated_at", "target_hash"`,
		Quote(FrontierTable), d.Placeholder(1))
	if withLimit {
		query += " LIMIT " + d.Placeholder(2)
	}
	return query
}

// ParseTime converts a driver timestamp value.
func ParseTime(v any) (time.Time, error) { return toTime(v) }

func placeholders(d Dialect, from, to int) string {
	marks := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		marks = append(marks, d.Placeholder(i))
	}
	return strings.Join(marks, ", ")
}
