// Package sqlgen renders the SQL shared by the relational store backends.
package sqlgen

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

// Dialect captures the differences between supported databases.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th parameter, from 1.
	Placeholder(n int) string
	ColumnType(t schema.FieldType) string
	// IDColumn is the full column definition of the surrogate primary key.
	IDColumn() string
	TimestampType() string
}

type postgres struct{}

func (postgres) Name() string             { return "postgres" }
func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgres) IDColumn() string         { return `"id" BIGSERIAL PRIMARY KEY` }
func (postgres) TimestampType() string    { return "TIMESTAMPTZ" }

func (postgres) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

type sqlite struct{}

func (sqlite) Name() string           { return "sqlite" }
func (sqlite) Placeholder(int) string { return "?" }
func (sqlite) IDColumn() string       { return `"id" INTEGER PRIMARY KEY AUTOINCREMENT` }
func (sqlite) TimestampType() string  { return "TIMESTAMP" }

func (sqlite) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.TypeInt:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// Supported dialects.
var (
	Postgres Dialect = postgres{}
	SQLite   Dialect = sqlite{}
)

// Quote renders an identifier. Entity and column names are validated at
// registration, so quoting only guards against reserved words.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type binder struct {
	d    Dialect
	args []any
}

func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}
