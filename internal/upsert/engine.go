// Package upsert persists record trees idempotently.
//
// Each top-level record is written in one transaction. Dependents are written
// first and their row ids fill the referring row's foreign key columns. Rows
// are found by the entity's lookup keys and created when missing, so applying
// the same record twice leaves one row.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/record"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// Outcome labels the result of one upsert for metrics.
type Outcome string

// Upsert outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDeferred  Outcome = "transient"
	OutcomeIntegrity Outcome = "integrity"
	OutcomeConfig    Outcome = "config"
	OutcomeFailed    Outcome = "error"
)

// Observer receives one outcome per top-level upsert.
type Observer interface {
	ObserveUpsert(entity string, outcome string)
}

// Engine upserts records into an EntityStore.
type Engine struct {
	store    store.EntityStore
	logger   *zap.Logger
	mode     coerce.Mode
	registry *schema.Registry
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithCoercionMode sets how coercion failures are handled. The default is
// coerce.Lenient.
func WithCoercionMode(mode coerce.Mode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithRegistry rejects records whose entity is not registered in reg.
func WithRegistry(reg *schema.Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New constructs an Engine.
func New(st store.EntityStore, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{store: st, logger: logger.Named("upsert")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type plan struct {
	rec    *record.Record
	entity *schema.Entity
	filter store.Filter
	deps   []planDep
}

type planDep struct {
	slot string
	plan *plan
}

// Upsert persists rec and its dependents and returns the top-level row.
//
// Configuration errors are reported before any write. When the store is
// temporarily unavailable the error is logged and the row is returned built
// in memory with Persisted false and a nil error. Integrity violations wrap
// store.ErrIntegrity.
func (e *Engine) Upsert(ctx context.Context, rec *record.Record) (*store.Row, error) {
	p, err := e.prepare(rec, nil)
	if err != nil {
		e.observe(rec, OutcomeConfig)
		return nil, err
	}

	var (
		root    *store.Row
		touched []*store.Row
		created bool
	)
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		touched = touched[:0]
		row, inserted, err := e.apply(ctx, tx, p, &touched)
		if err != nil {
			return err
		}
		root, created = row, inserted
		return nil
	})

	switch {
	case err == nil:
		for _, row := range touched {
			row.Persisted = true
		}
		if created {
			e.observe(rec, OutcomeInserted)
		} else {
			e.observe(rec, OutcomeUpdated)
		}
		return root, nil
	case errors.Is(err, store.ErrTransient):
		e.logger.Warn("store unavailable, keeping row in memory",
			zap.String("entity", p.entity.Name()),
			zap.Error(err),
		)
		e.observe(rec, OutcomeDeferred)
		row, derr := e.detached(p)
		if derr != nil {
			return nil, derr
		}
		return row, nil
	case errors.Is(err, store.ErrIntegrity):
		e.observe(rec, OutcomeIntegrity)
		return nil, fmt.Errorf("upsert %s: %w", p.entity.Name(), err)
	default:
		e.observe(rec, OutcomeFailed)
		return nil, fmt.Errorf("upsert %s: %w", p.entity.Name(), err)
	}
}

// prepare validates the whole record tree and computes lookup filters.
func (e *Engine) prepare(rec *record.Record, path []string) (*plan, error) {
	where := "root"
	if len(path) > 0 {
		where = strings.Join(path, ".")
	}
	if rec == nil {
		return nil, schema.Configf("", "nil record at %q", where)
	}
	entity := rec.Entity()
	if entity == nil {
		return nil, schema.Configf("", "record at %q cannot resolve to any entity schema", where)
	}
	if e.registry != nil {
		if registered, ok := e.registry.Get(entity.Name()); !ok || registered != entity {
			return nil, schema.Configf(entity.Name(), "entity is not registered")
		}
	}
	keys := entity.LookupKeys()
	if len(keys) == 0 {
		return nil, schema.Configf(entity.Name(), "no lookup keys registered")
	}
	p := &plan{rec: rec, entity: entity, filter: make(store.Filter, 0, len(keys))}
	for _, key := range keys {
		raw, ok := rec.Get(key)
		if !ok {
			return nil, schema.Configf(entity.Name(), "lookup key %q has no value", key)
		}
		v, err := entity.Pipeline(key).Apply(raw, e.mode)
		if err != nil {
			return nil, fmt.Errorf("coerce %s.%s: %w", entity.Name(), key, err)
		}
		if coerce.IsEmpty(v) {
			return nil, schema.Configf(entity.Name(), "lookup key %q has no value", key)
		}
		p.filter = append(p.filter, store.Condition{Column: key, Value: v})
	}
	for slot, dep := range rec.Dependents() {
		rel, ok := entity.Relation(slot)
		if !ok {
			return nil, schema.Configf(entity.Name(), "dependent slot %q is not declared", slot)
		}
		if dep == nil {
			continue
		}
		if dep.Entity() != nil && dep.Entity() != rel.Target {
			return nil, schema.Configf(entity.Name(), "dependent slot %q expects %q", slot, rel.Target.Name())
		}
		child, err := e.prepare(dep, append(append([]string(nil), path...), slot))
		if err != nil {
			return nil, err
		}
		p.deps = append(p.deps, planDep{slot: slot, plan: child})
	}
	return p, nil
}

func (e *Engine) apply(ctx context.Context, tx store.EntityTx, p *plan, touched *[]*store.Row) (*store.Row, bool, error) {
	deps := make(map[string]*store.Row, len(p.deps))
	for _, d := range p.deps {
		row, _, err := e.apply(ctx, tx, d.plan, touched)
		if err != nil {
			return nil, false, err
		}
		deps[d.slot] = row
	}

	row, err := tx.FindOne(ctx, p.entity, p.filter)
	inserting := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		row = store.NewRow(p.entity)
		inserting = true
	case err != nil:
		return nil, false, err
	}
	if err := e.assign(row, p, deps); err != nil {
		return nil, false, err
	}
	if inserting {
		err = tx.Insert(ctx, row)
	} else {
		err = tx.Update(ctx, row)
	}
	if err != nil {
		return nil, false, err
	}
	*touched = append(*touched, row)
	return row, inserting, nil
}

// detached builds the row tree without a store.
func (e *Engine) detached(p *plan) (*store.Row, error) {
	deps := make(map[string]*store.Row, len(p.deps))
	for _, d := range p.deps {
		row, err := e.detached(d.plan)
		if err != nil {
			return nil, err
		}
		deps[d.slot] = row
	}
	row := store.NewRow(p.entity)
	if err := e.assign(row, p, deps); err != nil {
		return nil, err
	}
	return row, nil
}

func (e *Engine) assign(row *store.Row, p *plan, deps map[string]*store.Row) error {
	for _, name := range p.rec.Fields() {
		if !Assignable(p.entity, name) {
			continue
		}
		raw, _ := p.rec.Get(name)
		v, err := p.entity.Pipeline(name).Apply(raw, e.mode)
		if err != nil {
			return fmt.Errorf("coerce %s.%s: %w", p.entity.Name(), name, err)
		}
		row.Values[name] = v
	}
	for _, rel := range p.entity.Relations() {
		if dep, ok := deps[rel.Slot]; ok && dep.ID != 0 {
			row.Values[rel.Column] = dep.ID
		}
	}
	for _, d := range p.entity.Derived() {
		row.Values[d.Field] = d.Fn(p.rec)
	}
	if len(deps) > 0 {
		row.Dependents = deps
	}
	return nil
}

// Assignable reports whether a record field may be copied onto a row.
func Assignable(entity *schema.Entity, name string) bool {
	if strings.HasPrefix(name, "_") {
		return false
	}
	switch name {
	case schema.PrimaryKey, schema.CreatedAt, schema.UpdatedAt:
		return false
	}
	if entity.IsForeignKey(name) {
		return false
	}
	if _, ok := entity.Relation(name); ok {
		return false
	}
	f, ok := entity.Field(name)
	return ok && f.Settable
}

func (e *Engine) observe(rec *record.Record, outcome Outcome) {
	if e.observer == nil {
		return
	}
	name := "unknown"
	if rec != nil && rec.Entity() != nil {
		name = rec.Entity().Name()
	}
	e.observer.ObserveUpsert(name, string(outcome))
}
