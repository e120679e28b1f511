package sqlgen

import (
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

// BuildRow converts driver values in SelectColumns order into a row.
func BuildRow(e *schema.Entity, values []any) (*store.Row, error) {
	cols := SelectColumns(e)
	if len(values) != len(cols) {
		return nil, fmt.Errorf("scan %s: got %d values for %d columns", e.Name(), len(values), len(cols))
	}
	row := store.NewRow(e)
	id, err := toInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("scan %s.id: %w", e.Name(), err)
	}
	row.ID = id
	for i, col := range e.Columns() {
		v, err := normalize(e, col, values[i+1])
		if err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", e.Name(), col, err)
		}
		row.Values[col] = v
	}
	n := len(values)
	if row.CreatedAt, err = toTime(values[n-2]); err != nil {
		return nil, fmt.Errorf("scan %s.created_at: %w", e.Name(), err)
	}
	if row.UpdatedAt, err = toTime(values[n-1]); err != nil {
		return nil, fmt.Errorf("scan %s.updated_at: %w", e.Name(), err)
	}
	row.Persisted = true
	return row, nil
}

func normalize(e *schema.Entity, col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if e.IsForeignKey(col) {
		return toInt(v)
	}
	f, ok := e.Field(col)
	if !ok {
		return v, nil
	}
	switch f.Type {
	case schema.TypeInt:
		return toInt(v)
	case schema.TypeFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			return strconv.ParseFloat(t, 64)
		}
	case schema.TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			return strconv.ParseBool(t)
		}
	case schema.TypeTime:
		return toTime(v)
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return v, nil
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer value %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
