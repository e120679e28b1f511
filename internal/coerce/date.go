package coerce

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoDate means no date could be found in the input. It is distinct from a
// malformed value so callers can leave the field unset.
var ErrNoDate = errors.New("no date found")

// DefaultDateLayouts are tried by ReadDate, in order.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 Jan, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"January 2006",
	"Jan 2006",
	time.RFC3339,
}

var yearPattern = regexp.MustCompile(`\d{4}`)

// ReadDate parses with DefaultDateLayouts.
var ReadDate = DateParser(DefaultDateLayouts...)

// DateParser tries each layout in order. If none match it falls back to the
// first four digit year, placed in September for "Late YEAR", March for
// "Early YEAR" and June otherwise, on the first of the month.
func DateParser(layouts ...string) Stage {
	return func(v any) (any, error) {
		switch t := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return t, nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range layouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, nil
				}
			}
			if ts, ok := approximateDate(s); ok {
				return ts, nil
			}
			return nil, parseErr("read_date", v, ErrNoDate)
		default:
			return nil, parseErr("read_date", v, ErrNoDate)
		}
	}
}

func approximateDate(s string) (time.Time, bool) {
	match := yearPattern.FindString(s)
	if match == "" {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return time.Time{}, false
	}
	month := time.June
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "late"):
		month = time.September
	case strings.Contains(lower, "early"):
		month = time.March
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
}
