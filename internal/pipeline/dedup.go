package pipeline

import (
	"fmt"
	"time"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/record"
)

// Deduplicator remembers the dedup value of every record it has seen, per
// entity. It is best effort, in memory and not safe for concurrent use.
type Deduplicator struct {
	seen map[string]map[string]struct{}
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]map[string]struct{})}
}

// Seen reports whether a record of the same entity with the same dedup value
// was seen before, and remembers rec otherwise. Values are compared after the
// field's coercion pipeline, as they would be persisted. Records whose entity
// has no dedup field, or that carry no value for it, are never duplicates.
func (d *Deduplicator) Seen(rec *record.Record) bool {
	if rec == nil || rec.Entity() == nil {
		return false
	}
	field := rec.Entity().DedupField()
	if field == "" {
		return false
	}
	raw, ok := rec.Get(field)
	if !ok || raw == nil {
		return false
	}
	v, _ := rec.Entity().Pipeline(field).Apply(raw, coerce.Lenient)
	if coerce.IsEmpty(v) {
		return false
	}
	key := fmt.Sprint(v)
	name := rec.Entity().Name()
	set, ok := d.seen[name]
	if !ok {
		set = make(map[string]struct{})
		d.seen[name] = set
	}
	if _, dup := set[key]; dup {
		return true
	}
	set[key] = struct{}{}
	return false
}

// Len returns how many distinct values are remembered for entity.
func (d *Deduplicator) Len(entity string) int {
	return len(d.seen[entity])
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Stats counts what happened to the records of one run.
type Stats struct {
	Persisted int
	Deferred  int
	Dropped   int
	Failed    int
}

// RunContext is the per-run state owned by the caller of a crawl and passed
// to every Process call.
type RunContext struct {
	ID        string
	CrawlName string
	StartedAt time.Time
	Dedup     *Deduplicator
	Stats     Stats
}

// NewRun starts a run of crawl with a fresh Deduplicator.
func NewRun(crawl string, ids IDGenerator, clk clock.Clock) (*RunContext, error) {
	if ids == nil || clk == nil {
		return nil, fmt.Errorf("run context needs an id generator and a clock")
	}
	id, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("new run id: %w", err)
	}
	return &RunContext{
		ID:        id,
		CrawlName: crawl,
		StartedAt: clk.Now(),
		Dedup:     NewDeduplicator(),
	}, nil
}
