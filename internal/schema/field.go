package schema

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
)

// FieldType is the declared storage type of a persisted field.
type FieldType int

// Supported field types.
const (
	TypeUnknown FieldType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeTime
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}

// ParseFieldType maps a type name from a definition file to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "bigint":
		return TypeInt, nil
	case "float", "double", "real", "numeric":
		return TypeFloat, nil
	case "string", "text", "varchar":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "time", "date", "datetime", "timestamp":
		return TypeTime, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: unmapped field type %q", ErrConfig, name)
	}
}

// Field describes one persisted column.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
	// Settable fields accept values from records. Non-settable fields are
	// only written by derive functions.
	Settable bool
	// Stages run after the type's default coercion stages.
	Stages []coerce.Stage
}

func newField(name string, t FieldType) Field {
	return Field{Name: name, Type: t, Nullable: true, Settable: true}
}

// Int declares a nullable integer field.
func Int(name string) Field { return newField(name, TypeInt) }

// Float declares a nullable float field.
func Float(name string) Field { return newField(name, TypeFloat) }

// String declares a nullable text field.
func String(name string) Field { return newField(name, TypeString) }

// Bool declares a nullable boolean field.
func Bool(name string) Field { return newField(name, TypeBool) }

// Time declares a nullable timestamp field.
func Time(name string) Field { return newField(name, TypeTime) }

// NotNull marks the column NOT NULL.
func (f Field) NotNull() Field {
	f.Nullable = false
	return f
}

// ReadOnly stops record values from being assigned to the field.
func (f Field) ReadOnly() Field {
	f.Settable = false
	return f
}

// With appends field specific coercion stages.
func (f Field) With(stages ...coerce.Stage) Field {
	f.Stages = append(append([]coerce.Stage(nil), f.Stages...), stages...)
	return f
}

// defaultStages returns the type's coercion pipeline. Date handling is left
// to field stages because layouts are site specific.
func defaultStages(t FieldType) (coerce.Pipeline, bool) {
	switch t {
	case TypeInt:
		return coerce.Pipeline{coerce.StripTags, coerce.StripWhitespace, coerce.ReadInt}, true
	case TypeFloat:
		return coerce.Pipeline{coerce.StripTags, coerce.StripWhitespace, coerce.ReadFloat}, true
	case TypeString:
		return coerce.Pipeline{coerce.StripWhitespace}, true
	case TypeBool:
		return coerce.Pipeline{coerce.Presence}, true
	case TypeTime:
		return coerce.Pipeline{}, true
	default:
		return nil, false
	}
}
