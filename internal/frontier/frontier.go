// Package frontier records which crawl targets are pending or completed so an
// interrupted crawl can resume without refetching finished work.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// DefaultTag is the handler used for entries enqueued without a tag.
const DefaultTag = "parse"

// ErrUnknownTag marks a pending entry whose resume tag has no handler.
var ErrUnknownTag = errors.New("unknown resume tag")

// Hasher turns a target locator into its key.
type Hasher interface {
	HashString(target string) string
}

// Observer receives frontier operation counts.
type Observer interface {
	ObserveFrontier(op string)
	ObserveResumeSkip(crawl, tag string)
}

// Handler replays one pending entry.
type Handler func(ctx context.Context, entry store.FrontierEntry) error

// Frontier wraps a FrontierStore with target hashing and resume dispatch.
type Frontier struct {
	store    store.FrontierStore
	hasher   Hasher
	logger   *zap.Logger
	observer Observer
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithObserver reports operations to o.
func WithObserver(o Observer) Option {
	return func(f *Frontier) { f.observer = o }
}

// New constructs a Frontier.
func New(st store.FrontierStore, hasher Hasher, logger *zap.Logger, opts ...Option) (*Frontier, error) {
	if st == nil {
		return nil, fmt.Errorf("frontier store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Frontier{store: st, hasher: hasher, logger: logger.Named("frontier")}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Enqueue records target as pending for crawl. Enqueueing a known target
// replaces its resume tag and makes it pending again.
func (f *Frontier) Enqueue(ctx context.Context, crawl, target, tag string) error {
	entry := store.FrontierEntry{
		CrawlName:  crawl,
		TargetHash: f.hasher.HashString(target),
		Target:     target,
		ResumeTag:  tag,
	}
	if err := f.store.PutPending(ctx, entry); err != nil {
		return fmt.Errorf("enqueue %s: %w", target, err)
	}
	f.observe("enqueue")
	return nil
}

// Complete marks target completed. Unknown targets are ignored.
func (f *Frontier) Complete(ctx context.Context, crawl, target string) error {
	found, err := f.store.MarkCompleted(ctx, crawl, f.hasher.HashString(target))
	if err != nil {
		return fmt.Errorf("complete %s: %w", target, err)
	}
	if !found {
		f.logger.Debug("completed target was never enqueued",
			zap.String("crawl", crawl),
			zap.String("target", target),
		)
		return nil
	}
	f.observe("complete")
	return nil
}

// Pending yields the pending entries of crawl. Each range re-queries the
// store; a store error is yielded once and ends the sequence.
func (f *Frontier) Pending(ctx context.Context, crawl string) iter.Seq2[store.FrontierEntry, error] {
	return func(yield func(store.FrontierEntry, error) bool) {
		stopped := false
		err := f.store.ScanPending(ctx, crawl, func(e store.FrontierEntry) bool {
			if !yield(e, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(store.FrontierEntry{}, fmt.Errorf("pending %s: %w", crawl, err))
		}
	}
}

// List returns at most limit pending entries.
func (f *Frontier) List(ctx context.Context, crawl string, limit int) ([]store.FrontierEntry, error) {
	entries, err := f.store.ListPending(ctx, crawl, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", crawl, err)
	}
	return entries, nil
}

// Skipped is a pending entry Resume did not replay.
type Skipped struct {
	Entry store.FrontierEntry
	Err   error
}

// ResumeReport summarizes a Resume call.
type ResumeReport struct {
	Replayed int
	Failed   int
	Skipped  []Skipped
}

// Resume replays every pending entry of crawl through the handler named by
// its resume tag. An empty tag selects DefaultTag. Entries with an unknown
// tag are logged, skipped and listed in the report; handler errors are
// logged and counted. Pending entries are read in full before the first
// handler runs, so handlers may enqueue.
func (f *Frontier) Resume(ctx context.Context, crawl string, handlers map[string]Handler) (ResumeReport, error) {
	var entries []store.FrontierEntry
	for entry, err := range f.Pending(ctx, crawl) {
		if err != nil {
			return ResumeReport{}, err
		}
		entries = append(entries, entry)
	}

	var report ResumeReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tag := entry.ResumeTag
		if tag == "" {
			tag = DefaultTag
		}
		handler, ok := handlers[tag]
		if !ok {
			f.logger.Warn("skipping pending target with unknown resume tag",
				zap.String("crawl", crawl),
				zap.String("target", entry.Target),
				zap.String("tag", tag),
			)
			report.Skipped = append(report.Skipped, Skipped{Entry: entry, Err: fmt.Errorf("%w %q", ErrUnknownTag, tag)})
			if f.observer != nil {
				f.observer.ObserveResumeSkip(crawl, tag)
			}
			continue
		}
		if err := handler(ctx, entry); err != nil {
			f.logger.Error("replay pending target",
				zap.String("crawl", crawl),
				zap.String("target", entry.Target),
				zap.Error(err),
			)
			report.Failed++
			continue
		}
		report.Replayed++
	}
	f.logger.Info("resumed crawl",
		zap.String("crawl", crawl),
		zap.Int("replayed", report.Replayed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func (f *Frontier) observe(op string) {
	if f.observer != nil {
		f.observer.ObserveFrontier(op)
	}
}
