// Package schemadef loads entity definitions from YAML so new entities can be
// declared without code. Coercion stages and derive functions are chosen by
// name from fixed tables.
package schemadef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

// File is the top-level document.
type File struct {
	Entities []EntityDef `yaml:"entities"`
}

// EntityDef declares one entity.
type EntityDef struct {
	Name         string        `yaml:"name"`
	Fields       []FieldDef    `yaml:"fields"`
	LookupKeys   []string      `yaml:"lookup_keys"`
	Relations    []RelationDef `yaml:"relations"`
	Placeholders []string      `yaml:"placeholders"`
	DedupField   string        `yaml:"dedup_field"`
}

// FieldDef declares one persisted field.
type FieldDef struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	NotNull  bool   `yaml:"not_null"`
	ReadOnly bool   `yaml:"read_only"`
	// Stages name extra coercion stages, applied in order.
	Stages []string `yaml:"stages"`
	// Match keeps the first capture group of the expression.
	Match string `yaml:"match"`
	// DateLayouts builds a date reader with the year fallback.
	DateLayouts []string `yaml:"date_layouts"`
	// TakeFirst applies the field stages to each candidate of a list value
	// and keeps the first non-empty result.
	TakeFirst bool       `yaml:"take_first"`
	Derive    *DeriveDef `yaml:"derive"`
}

// RelationDef declares a dependent slot.
type RelationDef struct {
	Slot   string `yaml:"slot"`
	Target string `yaml:"target"`
}

// DeriveDef computes a field from another record field.
type DeriveDef struct {
	Func string `yaml:"func"`
	From string `yaml:"from"`
}

var stages = map[string]coerce.Stage{
	"strip_whitespace":   coerce.StripWhitespace,
	"strip_tags":         coerce.StripTags,
	"strip_unicode":      coerce.StripUnicode,
	"strip_query_string": coerce.StripQueryString,
	"read_int":           coerce.ReadInt,
	"read_float":         coerce.ReadFloat,
	"read_bool":          coerce.ReadBool,
	"read_string":        coerce.ReadString,
	"read_date":          coerce.ReadDate,
	"presence":           coerce.Presence,
}

var derivers = map[string]func(from string) schema.DeriveFunc{
	"copy":  deriveCopy,
	"lower": deriveLower,
	"host":  deriveHost,
}

// StageNames lists the stage names definitions may use.
func StageNames() []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and parses a definition file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read schema definitions: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a definition document. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	var f File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse schema definitions: %w", err)
	}
	return f, nil
}

// Definitions converts every entity of f.
func (f File) Definitions() ([]schema.Definition, error) {
	defs := make([]schema.Definition, 0, len(f.Entities))
	for _, e := range f.Entities {
		def, err := e.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Register converts and registers every entity of f in document order, so
// an entity may refer to any entity above it or already in reg.
func (f File) Register(reg *schema.Registry) ([]*schema.Entity, error) {
	defs, err := f.Definitions()
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Entity, 0, len(defs))
	for _, def := range defs {
		e, err := reg.Register(def)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Definition converts e into a schema definition.
func (e EntityDef) Definition() (schema.Definition, error) {
	def := schema.Definition{
		Name:         e.Name,
		LookupKeys:   append([]string(nil), e.LookupKeys...),
		Placeholders: append([]string(nil), e.Placeholders...),
		DedupField:   e.DedupField,
	}
	for _, fd := range e.Fields {
		field, err := fd.field(e.Name)
		if err != nil {
			return schema.Definition{}, err
		}
		def.Fields = append(def.Fields, field)
		if fd.Derive != nil {
			fn, ok := derivers[fd.Derive.Func]
			if !ok {
				return schema.Definition{}, schema.Configf(e.Name, "field %q uses unknown derive func %q", fd.Name, fd.Derive.Func)
			}
			if fd.Derive.From == "" {
				return schema.Definition{}, schema.Configf(e.Name, "field %q derive needs a source field", fd.Name)
			}
			def.Derived = append(def.Derived, schema.Derived{Field: fd.Name, Fn: fn(fd.Derive.From)})
		}
	}
	for _, key := range e.LookupKeys {
		for _, fd := range e.Fields {
			if fd.Name != key {
				continue
			}
			if fd.Derive != nil {
				return schema.Definition{}, schema.Configf(e.Name, "lookup key %q is derived", key)
			}
			if fd.ReadOnly {
				return schema.Definition{}, schema.Configf(e.Name, "lookup key %q is read-only", key)
			}
		}
	}
	for _, rel := range e.Relations {
		def.Relations = append(def.Relations, schema.RelationDef{Slot: rel.Slot, Target: rel.Target})
	}
	return def, nil
}

func (fd FieldDef) field(entity string) (schema.Field, error) {
	t, err := schema.ParseFieldType(fd.Type)
	if err != nil {
		return schema.Field{}, schema.Configf(entity, "field %q: %v", fd.Name, err)
	}
	f := schema.Field{Name: fd.Name, Type: t, Nullable: !fd.NotNull, Settable: !fd.ReadOnly && fd.Derive == nil}

	var pipe coerce.Pipeline
	if fd.Match != "" {
		re, err := regexp.Compile(fd.Match)
		if err != nil {
			return schema.Field{}, schema.Configf(entity, "field %q has invalid match: %v", fd.Name, err)
		}
		pipe = append(pipe, coerce.MatchRegexp(re))
	}
	for _, name := range fd.Stages {
		stage, ok := stages[name]
		if !ok {
			return schema.Field{}, schema.Configf(entity, "field %q uses unknown stage %q", fd.Name, name)
		}
		pipe = append(pipe, stage)
	}
	if len(fd.DateLayouts) > 0 {
		pipe = append(pipe, coerce.DateParser(fd.DateLayouts...))
	}
	if fd.TakeFirst {
		pipe = coerce.Pipeline{coerce.TakeFirstNonEmpty(pipe.Stage(coerce.Strict))}
	}
	return f.With(pipe...), nil
}

func source(v schema.Values, from string) (string, bool) {
	raw, ok := v.Get(from)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func deriveCopy(from string) schema.DeriveFunc {
	return func(v schema.Values) any {
		raw, ok := v.Get(from)
		if !ok {
			return nil
		}
		return raw
	}
}

func deriveLower(from string) schema.DeriveFunc {
	return func(v schema.Values) any {
		s, ok := source(v, from)
		if !ok {
			return nil
		}
		return strings.ToLower(s)
	}
}

// deriveHost keeps the lowercased host of a URL field without "www.".
func deriveHost(from string) schema.DeriveFunc {
	return func(v schema.Values) any {
		s, ok := source(v, from)
		if !ok {
			return nil
		}
		if !strings.Contains(s, "://") {
			s = "http://" + s
		}
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return nil
		}
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
}
