// Package schema declares relational entities and realizes them into record
// shapes with per-field coercion pipelines.
//
// Entities are registered once at startup. A relation may only point at an
// entity that is already registered, so registration order is a valid
// dependency order for creating tables.
package schema

import (
	"fmt"
	"regexp"
	"sync"
)

var (
	entityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	identPattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Registry holds every known entity.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []*Entity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register validates def, realizes its shape and stores the entity.
func (r *Registry) Register(def Definition) (*Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !entityPattern.MatchString(def.Name) {
		return nil, Configf(def.Name, "invalid entity name")
	}
	if _, exists := r.entities[def.Name]; exists {
		return nil, Configf(def.Name, "already registered")
	}
	e, err := r.build(def)
	if err != nil {
		return nil, err
	}
	shape, err := Realize(e)
	if err != nil {
		return nil, err
	}
	e.shape = shape
	r.entities[e.name] = e
	r.order = append(r.order, e)
	return e, nil
}

// MustRegister is Register for statically declared entities.
func (r *Registry) MustRegister(def Definition) *Entity {
	e, err := r.Register(def)
	if err != nil {
		panic(fmt.Sprintf("register entity: %v", err))
	}
	return e
}

// Get looks up an entity by name.
func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Ordered returns entities so that every relation target precedes the
// entities referring to it.
func (r *Registry) Ordered() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entity(nil), r.order...)
}

func (r *Registry) build(def Definition) (*Entity, error) {
	e := &Entity{
		name:         def.Name,
		fieldIndex:   make(map[string]int, len(def.Fields)),
		relIndex:     make(map[string]int, len(def.Relations)),
		fkIndex:      make(map[string]int, len(def.Relations)),
		placeholders: make(map[string]struct{}, len(def.Placeholders)),
		dedupField:   def.DedupField,
	}
	taken := map[string]string{PrimaryKey: "primary key", CreatedAt: "timestamp", UpdatedAt: "timestamp"}
	claim := func(name, what string) error {
		if !identPattern.MatchString(name) {
			return Configf(def.Name, "invalid %s name %q", what, name)
		}
		if prev, ok := taken[name]; ok {
			return Configf(def.Name, "%s %q collides with %s", what, name, prev)
		}
		taken[name] = what
		return nil
	}

	for _, f := range def.Fields {
		if err := claim(f.Name, "field"); err != nil {
			return nil, err
		}
		if _, ok := defaultStages(f.Type); !ok {
			return nil, Configf(def.Name, "field %q has unmapped type %s", f.Name, f.Type)
		}
		e.fieldIndex[f.Name] = len(e.fields)
		e.fields = append(e.fields, f)
	}
	for _, rel := range def.Relations {
		if err := claim(rel.Slot, "relation"); err != nil {
			return nil, err
		}
		column := rel.Slot + "_id"
		if err := claim(column, "foreign key"); err != nil {
			return nil, err
		}
		target, ok := r.entities[rel.Target]
		if !ok {
			return nil, Configf(def.Name, "relation %q targets unknown entity %q", rel.Slot, rel.Target)
		}
		e.relIndex[rel.Slot] = len(e.relations)
		e.fkIndex[column] = len(e.relations)
		e.relations = append(e.relations, Relation{Slot: rel.Slot, Column: column, Target: target})
	}
	for _, name := range def.Placeholders {
		if err := claim(name, "placeholder"); err != nil {
			return nil, err
		}
		e.placeholders[name] = struct{}{}
	}
	derived := make(map[string]struct{}, len(def.Derived))
	for _, d := range def.Derived {
		derived[d.Field] = struct{}{}
	}
	// Lookup keys must reach the row unchanged or find-or-create never matches.
	seen := make(map[string]struct{}, len(def.LookupKeys))
	for _, key := range def.LookupKeys {
		idx, ok := e.fieldIndex[key]
		if !ok {
			return nil, Configf(def.Name, "lookup key %q is not a persisted field", key)
		}
		if _, dup := seen[key]; dup {
			return nil, Configf(def.Name, "lookup key %q listed twice", key)
		}
		if _, ok := derived[key]; ok {
			return nil, Configf(def.Name, "lookup key %q is derived", key)
		}
		if !e.fields[idx].Settable {
			return nil, Configf(def.Name, "lookup key %q is read-only", key)
		}
		seen[key] = struct{}{}
		e.lookup = append(e.lookup, key)
	}
	for _, d := range def.Derived {
		if _, ok := e.fieldIndex[d.Field]; !ok {
			return nil, Configf(def.Name, "derived field %q is not a persisted field", d.Field)
		}
		if d.Fn == nil {
			return nil, Configf(def.Name, "derived field %q has no function", d.Field)
		}
		e.derived = append(e.derived, d)
	}
	if def.DedupField != "" {
		if _, ok := taken[def.DedupField]; !ok {
			return nil, Configf(def.Name, "dedup field %q is not a record field", def.DedupField)
		}
	}
	return e, nil
}
