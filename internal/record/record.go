// Package record holds extracted, not yet persisted entity records.
package record

import (
	"iter"
	"maps"
	"slices"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

type dependent struct {
	slot string
	rec  *Record
}

// Record is the in-memory value of one entity instance plus the records it
// depends on. Unset fields are absent; setting nil removes a field.
type Record struct {
	entity     *schema.Entity
	values     map[string]any
	dependents []dependent
}

// New returns an empty record bound to entity.
func New(entity *schema.Entity) *Record {
	return &Record{entity: entity, values: make(map[string]any)}
}

// Entity is nil for a record that was never bound to a schema.
func (r *Record) Entity() *schema.Entity { return r.entity }

// Set stores a field value. Names outside the entity's record shape are a
// configuration error.
func (r *Record) Set(field string, value any) error {
	if r.entity == nil {
		return schema.Configf("", "record is not bound to an entity")
	}
	if !r.entity.Shape().Has(field) {
		return schema.Configf(r.entity.Name(), "unknown record field %q", field)
	}
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if value == nil {
		delete(r.values, field)
		return nil
	}
	r.values[field] = value
	return nil
}

// Get implements schema.Values.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Fields returns the set field names in sorted order.
func (r *Record) Fields() []string {
	return slices.Sorted(maps.Keys(r.values))
}

// Values returns a copy of the set fields.
func (r *Record) Values() map[string]any {
	return maps.Clone(r.values)
}

// SetDependent attaches dep under a relation slot, replacing any previous
// record in that slot. A nil dep clears the slot.
func (r *Record) SetDependent(slot string, dep *Record) error {
	if r.entity == nil {
		return schema.Configf("", "record is not bound to an entity")
	}
	rel, ok := r.entity.Relation(slot)
	if !ok {
		return schema.Configf(r.entity.Name(), "dependent slot %q is not declared", slot)
	}
	idx := slices.IndexFunc(r.dependents, func(d dependent) bool { return d.slot == slot })
	if dep == nil {
		if idx >= 0 {
			r.dependents = slices.Delete(r.dependents, idx, idx+1)
		}
		return nil
	}
	if dep.entity != nil && dep.entity != rel.Target {
		return schema.Configf(r.entity.Name(), "dependent slot %q expects %q, got %q", slot, rel.Target.Name(), dep.entity.Name())
	}
	if idx >= 0 {
		r.dependents[idx].rec = dep
		return nil
	}
	r.dependents = append(r.dependents, dependent{slot: slot, rec: dep})
	return nil
}

// Dependent returns the record in slot.
func (r *Record) Dependent(slot string) (*Record, bool) {
	for _, d := range r.dependents {
		if d.slot == slot {
			return d.rec, true
		}
	}
	return nil, false
}

// Dependents yields slot and record pairs in attachment order.
func (r *Record) Dependents() iter.Seq2[string, *Record] {
	return func(yield func(string, *Record) bool) {
		for _, d := range r.dependents {
			if !yield(d.slot, d.rec) {
				return
			}
		}
	}
}

// Clone copies the record tree. Values are copied shallowly.
func (r *Record) Clone() *Record {
	out := &Record{entity: r.entity, values: maps.Clone(r.values)}
	if out.values == nil {
		out.values = make(map[string]any)
	}
	for _, d := range r.dependents {
		out.dependents = append(out.dependents, dependent{slot: d.slot, rec: d.rec.Clone()})
	}
	return out
}
