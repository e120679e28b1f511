package schema

import "github.com/JakeFAU/scrape-ledger/internal/coerce"

// Column names every entity table carries.
const (
	PrimaryKey = "id"
	CreatedAt  = "created_at"
	UpdatedAt  = "updated_at"
)

// Values is the read side of a record, as seen by derive functions.
type Values interface {
	Get(field string) (any, bool)
}

// DeriveFunc computes a field from the record being persisted.
type DeriveFunc func(Values) any

// Derived pairs a persisted field with the function that computes it.
type Derived struct {
	Field string
	Fn    DeriveFunc
}

// RelationDef declares a dependent slot pointing at another entity.
type RelationDef struct {
	Slot   string
	Target string
}

// Definition is the declarative input to Registry.Register.
type Definition struct {
	Name         string
	Fields       []Field
	LookupKeys   []string
	Relations    []RelationDef
	Placeholders []string
	Derived      []Derived
	// DedupField names the record field used to drop repeats within a run.
	DedupField string
}

// Relation is a resolved dependent slot. Column holds the dependent row id.
type Relation struct {
	Slot   string
	Column string
	Target *Entity
}

// Entity is a registered, immutable entity schema.
type Entity struct {
	name         string
	fields       []Field
	fieldIndex   map[string]int
	lookup       []string
	relations    []Relation
	relIndex     map[string]int
	fkIndex      map[string]int
	placeholders map[string]struct{}
	derived      []Derived
	dedupField   string
	shape        Shape
}

// Name is the entity and table name.
func (e *Entity) Name() string { return e.name }

// Fields returns the persisted fields in declaration order, excluding the
// primary key, foreign key columns and timestamps.
func (e *Entity) Fields() []Field { return append([]Field(nil), e.fields...) }

// Field looks up a persisted field.
func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return e.fields[i], true
}

// LookupKeys returns the fields that identify a row.
func (e *Entity) LookupKeys() []string { return append([]string(nil), e.lookup...) }

// Relations returns the dependent slots in declaration order.
func (e *Entity) Relations() []Relation { return append([]Relation(nil), e.relations...) }

// Relation looks up a dependent slot.
func (e *Entity) Relation(slot string) (Relation, bool) {
	i, ok := e.relIndex[slot]
	if !ok {
		return Relation{}, false
	}
	return e.relations[i], true
}

// IsForeignKey reports whether column holds a dependent row id.
func (e *Entity) IsForeignKey(column string) bool {
	_, ok := e.fkIndex[column]
	return ok
}

// IsPlaceholder reports whether name is a record-only field.
func (e *Entity) IsPlaceholder(name string) bool {
	_, ok := e.placeholders[name]
	return ok
}

// Derived returns the derive functions in declaration order.
func (e *Entity) Derived() []Derived { return append([]Derived(nil), e.derived...) }

// DedupField is empty when the entity is never deduplicated.
func (e *Entity) DedupField() string { return e.dedupField }

// Shape is the realized record shape.
func (e *Entity) Shape() Shape { return e.shape }

// Columns lists the persisted columns in table order: persisted fields then
// foreign key columns. The primary key and timestamps are not included.
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.fields)+len(e.relations))
	for _, f := range e.fields {
		cols = append(cols, f.Name)
	}
	for _, r := range e.relations {
		cols = append(cols, r.Column)
	}
	return cols
}

// Pipeline returns the coercion pipeline for a field of the record shape.
func (e *Entity) Pipeline(name string) coerce.Pipeline {
	return e.shape.Pipeline(name)
}
