package store

import (
	"context"
	"time"
)

// FrontierEntry is one crawl target known to the frontier.
type FrontierEntry struct {
	// CrawlName scopes the entry to a crawl.
	CrawlName string
	// TargetHash is the hex SHA-256 of Target; with CrawlName it is the key.
	TargetHash string
	// Target is the locator to fetch, usually a URL.
	Target string
	// ResumeTag selects the handler that processes the target on replay.
	ResumeTag string
	// Completed is set once a response for Target was received.
	Completed bool
	// UpdatedAt is the last time the entry changed.
	UpdatedAt time.Time
}

// FrontierStore persists frontier entries.
type FrontierStore interface {
	// PutPending inserts the entry, or overwrites target and resume tag of
	// an existing one, leaving it not completed.
	PutPending(ctx context.Context, entry FrontierEntry) error
	// MarkCompleted flags the entry as completed. It reports false when no
	// such entry exists.
	MarkCompleted(ctx context.Context, crawlName, targetHash string) (bool, error)
	// ScanPending calls yield for each entry of crawlName that is not
	// completed until yield returns false.
	ScanPending(ctx context.Context, crawlName string, yield func(FrontierEntry) bool) error
	// ListPending returns at most limit pending entries; limit <= 0 means no
	// limit.
	ListPending(ctx context.Context, crawlName string, limit int) ([]FrontierEntry, error)
}
