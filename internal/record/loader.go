package record

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

type candidateSet struct {
	values   []any
	fallback any
	failErr  error
}

// Loader collects candidate values for record fields from a parsed document
// and keeps the first non-empty one per field, in document order.
//
// Every candidate passes through the stages given to the Add call and then
// the field's own pipeline. A candidate that fails to coerce is skipped; if no
// candidate survives, a Lenient loader keeps the zero value of the first
// failure and a Strict loader reports the error from Load.
type Loader struct {
	entity     *schema.Entity
	root       *goquery.Selection
	mode       coerce.Mode
	order      []string
	fields     map[string]*candidateSet
	dependents []dependent
	errs       []error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithMode sets the coercion mode. The default is coerce.Lenient.
func WithMode(mode coerce.Mode) LoaderOption {
	return func(l *Loader) { l.mode = mode }
}

// NewLoader starts a loader over root, which may be nil when only AddValue
// is used.
func NewLoader(entity *schema.Entity, root *goquery.Selection, opts ...LoaderOption) *Loader {
	l := &Loader{entity: entity, root: root, fields: make(map[string]*candidateSet)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddValue adds literal candidates.
func (l *Loader) AddValue(field string, value any, stages ...coerce.Stage) *Loader {
	var raw []any
	switch t := value.(type) {
	case nil:
	case []string:
		for _, s := range t {
			raw = append(raw, s)
		}
	case []any:
		raw = t
	default:
		raw = []any{value}
	}
	l.add(field, raw, stages)
	return l
}

// AddCSS adds the text of every element matching css.
func (l *Loader) AddCSS(field, css string, stages ...coerce.Stage) *Loader {
	var raw []any
	l.find(css).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, s.Text())
	})
	l.add(field, raw, stages)
	return l
}

// AddAttr adds attribute attr of every element matching css that has it.
func (l *Loader) AddAttr(field, css, attr string, stages ...coerce.Stage) *Loader {
	var raw []any
	l.find(css).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			raw = append(raw, v)
		}
	})
	l.add(field, raw, stages)
	return l
}

// AddExists adds true when css matches anything and false otherwise.
func (l *Loader) AddExists(field, css string) *Loader {
	l.add(field, []any{l.find(css).Length() > 0}, nil)
	return l
}

// AddDependent attaches a dependent record; nil is ignored.
func (l *Loader) AddDependent(slot string, dep *Record) *Loader {
	if dep != nil {
		l.dependents = append(l.dependents, dependent{slot: slot, rec: dep})
	}
	return l
}

// Load builds the record.
func (l *Loader) Load() (*Record, error) {
	if l.entity == nil {
		return nil, schema.Configf("", "loader is not bound to an entity")
	}
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	rec := New(l.entity)
	for _, field := range l.order {
		set := l.fields[field]
		var chosen any
		for _, v := range set.values {
			if !coerce.IsEmpty(v) {
				chosen = v
				break
			}
		}
		if chosen == nil && set.failErr != nil {
			if l.mode == coerce.Strict {
				return nil, set.failErr
			}
			chosen = set.fallback
		}
		if err := rec.Set(field, chosen); err != nil {
			return nil, err
		}
	}
	for _, d := range l.dependents {
		if err := rec.SetDependent(d.slot, d.rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (l *Loader) find(css string) *goquery.Selection {
	if l.root == nil {
		return &goquery.Selection{}
	}
	return l.root.Find(css)
}

func (l *Loader) add(field string, raw []any, stages []coerce.Stage) {
	if l.entity == nil {
		return
	}
	if !l.entity.Shape().Has(field) {
		l.errs = append(l.errs, schema.Configf(l.entity.Name(), "unknown record field %q", field))
		return
	}
	set, ok := l.fields[field]
	if !ok {
		set = &candidateSet{}
		l.fields[field] = set
		l.order = append(l.order, field)
	}
	pipeline := coerce.Pipeline(stages).Then(l.entity.Pipeline(field)...)
	for _, candidate := range raw {
		if s, ok := candidate.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		out, err := pipeline.Apply(candidate, coerce.Strict)
		if err != nil {
			if set.failErr == nil {
				set.failErr = err
				set.fallback, _ = pipeline.Apply(candidate, coerce.Lenient)
			}
			continue
		}
		set.values = append(set.values, out)
	}
}
