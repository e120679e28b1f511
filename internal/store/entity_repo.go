package store

import (
	"context"
	"maps"
	"time"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

// Row is the stored state of one entity instance.
type Row struct {
	// Entity is the row's schema.
	Entity *schema.Entity
	// ID is assigned by the store on insert and zero before that.
	ID int64
	// Values holds persisted fields and foreign key columns by column name.
	// A missing or nil value is stored as NULL.
	Values map[string]any
	// CreatedAt and UpdatedAt are set from the store clock only.
	CreatedAt time.Time
	UpdatedAt time.Time
	// Persisted is false when the row only exists in memory because the
	// store was unavailable.
	Persisted bool
	// Dependents holds the resolved rows of the record's dependent slots.
	Dependents map[string]*Row
}

// NewRow returns an empty row for entity.
func NewRow(entity *schema.Entity) *Row {
	return &Row{Entity: entity, Values: make(map[string]any)}
}

// Get returns a column value.
func (r *Row) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok && v != nil
}

// Map flattens the row for export, including id and timestamps.
func (r *Row) Map() map[string]any {
	out := maps.Clone(r.Values)
	if out == nil {
		out = make(map[string]any, 3)
	}
	out[schema.PrimaryKey] = r.ID
	out[schema.CreatedAt] = r.CreatedAt
	out[schema.UpdatedAt] = r.UpdatedAt
	return out
}

// Condition is one equality test of a lookup filter.
type Condition struct {
	Column string
	Value  any
}

// Filter is a conjunction of equality conditions, applied in order.
type Filter []Condition

// EntityTx is the work surface inside one transaction.
type EntityTx interface {
	// FindOne returns the row matching filter or ErrNotFound.
	FindOne(ctx context.Context, entity *schema.Entity, filter Filter) (*Row, error)
	// Insert stores a new row and sets its ID and timestamps.
	Insert(ctx context.Context, row *Row) error
	// Update rewrites every persisted column of an existing row and refreshes
	// UpdatedAt.
	Update(ctx context.Context, row *Row) error
}

// EntityStore persists entity rows.
type EntityStore interface {
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx EntityTx) error) error
	// List pages through the rows of entity ordered by id.
	List(ctx context.Context, entity *schema.Entity, limit, offset int) ([]*Row, error)
	// Migrate creates missing tables and indexes for entities, which must be
	// in dependency order, plus the frontier table.
	Migrate(ctx context.Context, entities []*schema.Entity) error
}
