package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// CreateTable renders the DDL of one entity table.
func CreateTable(d Dialect, e *schema.Entity) string {
	defs := []string{d.IDColumn()}
	for _, f := range e.Fields() {
		def := fmt.Sprintf("%s %s", Quote(f.Name), d.ColumnType(f.Type))
		if !f.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	for _, r := range e.Relations() {
		defs = append(defs, fmt.Sprintf("%s %s REFERENCES %s (%s)",
			Quote(r.Column), d.ColumnType(schema.TypeInt), Quote(r.Target.Name()), Quote(schema.PrimaryKey)))
	}
	defs = append(defs,
		fmt.Sprintf("%s %s NOT NULL", Quote(schema.CreatedAt), d.TimestampType()),
		fmt.Sprintf("%s %s NOT NULL", Quote(schema.UpdatedAt), d.TimestampType()),
	)
	if keys := e.LookupKeys(); len(keys) > 0 {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", quoteAll(keys)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(e.Name()), strings.Join(defs, ",\n\t"))
}

// CreateIndexes renders one index per foreign key column.
func CreateIndexes(e *schema.Entity) []string {
	rels := e.Relations()
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			Quote(e.Name()+"_"+r.Column+"_idx"), Quote(e.Name()), Quote(r.Column)))
	}
	return out
}

// SelectColumns is the column order of every row query: id, persisted
// columns, timestamps.
func SelectColumns(e *schema.Entity) []string {
	cols := append([]string{schema.PrimaryKey}, e.Columns()...)
	return append(cols, schema.CreatedAt, schema.UpdatedAt)
}

// FindOne renders a lookup by filter.
func FindOne(d Dialect, e *schema.Entity, filter store.Filter) (string, []any) {
	b := &binder{d: d}
	conds := make([]string, 0, len(filter))
	for _, c := range filter {
		conds = append(conds, fmt.Sprintf("%s = %s", Quote(c.Column), b.bind(c.Value)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", quoteAll(SelectColumns(e)), Quote(e.Name()))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query + " LIMIT 1", b.args
}

// List renders a page of rows ordered by id.
func List(d Dialect, e *schema.Entity, limit, offset int) (string, []any) {
	b := &binder{d: d}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %s OFFSET %s",
		quoteAll(SelectColumns(e)), Quote(e.Name()), Quote(schema.PrimaryKey), b.bind(limit), b.bind(offset))
	return query, b.args
}

// Insert renders an insert of every persisted column returning the new id.
func Insert(d Dialect, row *store.Row, now time.Time) (string, []any) {
	b := &binder{d: d}
	cols := row.Entity.Columns()
	marks := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		marks = append(marks, b.bind(row.Values[c]))
	}
	marks = append(marks, b.bind(now), b.bind(now))
	cols = append(cols, schema.CreatedAt, schema.UpdatedAt)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		Quote(row.Entity.Name()), quoteAll(cols), strings.Join(marks, ", "), Quote(schema.PrimaryKey))
	return query, b.args
}

// Update renders a rewrite of every persisted column of row.
func Update(d Dialect, row *store.Row, now time.Time) (string, []any) {
	b := &binder{d: d}
	cols := row.Entity.Columns()
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", Quote(c), b.bind(row.Values[c])))
	}
	sets = append(sets, fmt.Sprintf("%s = %s", Quote(schema.UpdatedAt), b.bind(now)))
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		Quote(row.Entity.Name()), strings.Join(sets, ", "), Quote(schema.PrimaryKey), b.bind(row.ID))
	return query, b.args
}

func quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}
