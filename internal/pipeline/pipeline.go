// Package pipeline runs extracted records through site transforms, per-run
// deduplication and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/record"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// ErrDrop marks a record that was intentionally not persisted.
var ErrDrop = errors.New("record dropped")

// DropError says why a record was dropped.
type DropError struct {
	Entity string
	Reason string
}

func (e *DropError) Error() string {
	return fmt.Sprintf("drop %s: %s", e.Entity, e.Reason)
}

// Unwrap lets errors.Is match ErrDrop.
func (e *DropError) Unwrap() error { return ErrDrop }

// Upserter persists one record tree.
type Upserter interface {
	Upsert(ctx context.Context, rec *record.Record) (*store.Row, error)
}

// Observer receives dropped record counts.
type Observer interface {
	ObserveDrop(entity string)
}

// Pipeline is the ordered item pipeline: transforms, dedup, persist.
type Pipeline struct {
	upserter   Upserter
	transforms *Transforms
	dedup      bool
	logger     *zap.Logger
	observer   Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTransforms runs t before dedup.
func WithTransforms(t *Transforms) Option {
	return func(p *Pipeline) { p.transforms = t }
}

// WithDedup toggles dropping records already seen in the run. It is on by
// default.
func WithDedup(enabled bool) Option {
	return func(p *Pipeline) { p.dedup = enabled }
}

// WithObserver reports drops to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New constructs a Pipeline.
func New(up Upserter, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if up == nil {
		return nil, fmt.Errorf("upserter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{upserter: up, dedup: true, logger: logger.Named("pipeline")}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs rec through every stage. Drops return a *DropError. Failures
// are logged here with the run id, so callers may keep crawling on error.
func (p *Pipeline) Process(ctx context.Context, run *RunContext, rec *record.Record) (*store.Row, error) {
	if run == nil {
		return nil, fmt.Errorf("run context is required")
	}
	if rec == nil || rec.Entity() == nil {
		run.Stats.Failed++
		err := fmt.Errorf("process: record cannot resolve to any entity schema")
		p.logger.Error("process record", zap.String("run_id", run.ID), zap.Error(err))
		return nil, err
	}
	entity := rec.Entity().Name()
	fields := []zap.Field{zap.String("run_id", run.ID), zap.String("entity", entity)}

	if p.transforms != nil {
		out, err := p.transforms.Apply(rec)
		if err != nil {
			return nil, p.fail(run, entity, err, fields)
		}
		rec = out
	}

	if p.dedup && run.Dedup != nil && run.Dedup.Seen(rec) {
		return nil, p.fail(run, entity, &DropError{Entity: entity, Reason: "duplicate"}, fields)
	}

	row, err := p.upserter.Upsert(ctx, rec)
	if err != nil {
		return nil, p.fail(run, entity, err, fields)
	}
	if row.Persisted {
		run.Stats.Persisted++
	} else {
		run.Stats.Deferred++
	}
	return row, nil
}

func (p *Pipeline) fail(run *RunContext, entity string, err error, fields []zap.Field) error {
	if errors.Is(err, ErrDrop) {
		run.Stats.Dropped++
		if p.observer != nil {
			p.observer.ObserveDrop(entity)
		}
		p.logger.Debug("dropped record", append(fields, zap.Error(err))...)
		return err
	}
	run.Stats.Failed++
	p.logger.Error("process record", append(fields, zap.Error(err))...)
	return err
}
