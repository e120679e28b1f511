package schema

import "github.com/JakeFAU/scrape-ledger/internal/coerce"

// Kind says what a record shape field maps to.
type Kind int

// Shape field kinds.
const (
	KindPersisted Kind = iota
	KindForeignKey
	KindBookkeeping
	KindRelation
	KindPlaceholder
)

// ShapeField is one legal record field.
type ShapeField struct {
	Name     string
	Kind     Kind
	Pipeline coerce.Pipeline
}

// Shape is the set of fields a record of an entity may carry.
type Shape struct {
	fields map[string]ShapeField
}

// Has reports whether name is a legal record field.
func (s Shape) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Lookup returns the shape field for name.
func (s Shape) Lookup(name string) (ShapeField, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Pipeline returns the coercion pipeline for name; unknown names and
// passthrough fields get an empty pipeline.
func (s Shape) Pipeline(name string) coerce.Pipeline {
	return s.fields[name].Pipeline
}

// Len is the number of legal fields.
func (s Shape) Len() int { return len(s.fields) }

// Realize builds the record shape of an entity. Persisted fields get their
// type's default stages followed by the field's own stages. The primary key,
// foreign key columns, timestamps, relation slots and placeholders are legal
// but pass through unchanged.
func Realize(e *Entity) (Shape, error) {
	fields := make(map[string]ShapeField, len(e.fields)+len(e.relations)*2+len(e.placeholders)+3)
	for _, f := range e.fields {
		p, ok := defaultStages(f.Type)
		if !ok {
			return Shape{}, Configf(e.name, "field %q has unmapped type %s", f.Name, f.Type)
		}
		fields[f.Name] = ShapeField{Name: f.Name, Kind: KindPersisted, Pipeline: p.Then(f.Stages...)}
	}
	for _, name := range []string{PrimaryKey, CreatedAt, UpdatedAt} {
		fields[name] = ShapeField{Name: name, Kind: KindBookkeeping}
	}
	for _, r := range e.relations {
		fields[r.Slot] = ShapeField{Name: r.Slot, Kind: KindRelation}
		fields[r.Column] = ShapeField{Name: r.Column, Kind: KindForeignKey}
	}
	for name := range e.placeholders {
		fields[name] = ShapeField{Name: name, Kind: KindPlaceholder}
	}
	return Shape{fields: fields}, nil
}
