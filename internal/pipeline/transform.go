package pipeline

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/scrape-ledger/internal/record"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

// Transform rewrites one record before it is persisted. It may modify rec in
// place or return a different record of the same entity.
type Transform func(rec *record.Record) (*record.Record, error)

type namedTransform struct {
	name string
	fn   Transform
}

// Transforms holds named site transforms and which of them run for each
// entity.
type Transforms struct {
	mu        sync.RWMutex
	available map[string]Transform
	enabled   map[string][]namedTransform
}

// NewTransforms returns an empty table.
func NewTransforms() *Transforms {
	return &Transforms{
		available: make(map[string]Transform),
		enabled:   make(map[string][]namedTransform),
	}
}

// Register makes fn available under name.
func (t *Transforms) Register(name string, fn Transform) error {
	if name == "" || fn == nil {
		return schema.Configf("", "transform needs a name and a function")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.available[name]; exists {
		return schema.Configf("", "transform %q already registered", name)
	}
	t.available[name] = fn
	return nil
}

// Enable appends the named transforms to the chain run for entity.
func (t *Transforms) Enable(entity string, names ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		fn, ok := t.available[name]
		if !ok {
			return schema.Configf(entity, "unknown transform %q", name)
		}
		if slices.ContainsFunc(t.enabled[entity], func(n namedTransform) bool { return n.name == name }) {
			continue
		}
		t.enabled[entity] = append(t.enabled[entity], namedTransform{name: name, fn: fn})
	}
	return nil
}

// Names returns the registered transform names.
func (t *Transforms) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.available))
	for name := range t.available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs the enabled chain over a copy of rec and its dependents,
// dependents first. A transform returning nil drops the record: a dropped
// dependent clears its slot and a dropped top-level record is a DropError.
func (t *Transforms) Apply(rec *record.Record) (*record.Record, error) {
	if rec == nil {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, dropped, err := t.apply(rec.Clone())
	if err != nil {
		return nil, err
	}
	if dropped != "" {
		return nil, &DropError{Entity: rec.Entity().Name(), Reason: "dropped by transform " + dropped}
	}
	return out, nil
}

// apply returns the name of the dropping transform when one returned nil.
func (t *Transforms) apply(rec *record.Record) (*record.Record, string, error) {
	type slotDep struct {
		slot string
		dep  *record.Record
	}
	var deps []slotDep
	for slot, dep := range rec.Dependents() {
		deps = append(deps, slotDep{slot: slot, dep: dep})
	}
	for _, d := range deps {
		if d.dep == nil {
			continue
		}
		out, dropped, err := t.apply(d.dep)
		if err != nil {
			return nil, "", err
		}
		if dropped != "" {
			out = nil
		}
		if out != d.dep {
			if err := rec.SetDependent(d.slot, out); err != nil {
				return nil, "", err
			}
		}
	}
	if rec.Entity() == nil {
		return rec, "", nil
	}
	entity := rec.Entity().Name()
	for _, nt := range t.enabled[entity] {
		out, err := nt.fn(rec)
		if err != nil {
			return nil, "", fmt.Errorf("transform %s on %s: %w", nt.name, entity, err)
		}
		if out == nil {
			return nil, nt.name, nil
		}
		if out.Entity() != rec.Entity() {
			return nil, "", schema.Configf(entity, "transform %q changed the record entity", nt.name)
		}
		rec = out
	}
	return rec, "", nil
}
