package coerce

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	numberPattern  = regexp.MustCompile(`[.\d]+`)
	numberStripper = strings.NewReplacer(`"`, "", "'", "", "\n", "", ",", "")
	falsyWords     = map[string]struct{}{"false": {}, "no": {}, "0": {}, "off": {}}
)

// StripWhitespace trims surrounding whitespace from strings.
func StripWhitespace(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

// StripTags removes markup and keeps the text content.
func StripTags(v any) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "<") {
		return v, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", parseErr("strip_tags", v, err)
	}
	return doc.Text(), nil
}

// StripUnicode folds compatibility characters and drops anything outside
// ASCII.
func StripUnicode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", parseErr("strip_unicode", v, err)
	}
	return out, nil
}

// StripQueryString drops everything from the first '?'.
func StripQueryString(v any) (any, error) {
	if s, ok := v.(string); ok {
		before, _, _ := strings.Cut(s, "?")
		return before, nil
	}
	return v, nil
}

func extractNumber(s string) string {
	s = strings.TrimSpace(numberStripper.Replace(s))
	if m := numberPattern.FindString(s); m != "" {
		return m
	}
	return s
}

// ReadInt parses the first number in a string. Fractions are rounded half to
// even. Non-string values pass through unchanged.
func ReadInt(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if s == "" {
		return int64(0), nil
	}
	num := extractNumber(s)
	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return int64(0), parseErr("read_int", v, err)
		}
		return int64(math.RoundToEven(f)), nil
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return int64(0), parseErr("read_int", v, err)
	}
	return n, nil
}

// ReadFloat parses the first number in a string. Non-string values pass
// through unchanged.
func ReadFloat(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if s == "" {
		return float64(0), nil
	}
	f, err := strconv.ParseFloat(extractNumber(s), 64)
	if err != nil {
		return float64(0), parseErr("read_float", v, err)
	}
	return f, nil
}

// ReadBool maps "false", "no", "0" and "off" to false and everything else by
// truthiness.
func ReadBool(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		if _, falsy := falsyWords[strings.ToLower(strings.TrimSpace(t))]; falsy {
			return false, nil
		}
		return t != "", nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case float64:
		return t != 0, nil
	default:
		return true, nil
	}
}

// ReadString renders non-nil values with fmt.
func ReadString(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// Presence reports whether any value was extracted at all.
func Presence(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return v != nil, nil
}

// MatchRegexp keeps the first capture group of re, or the whole match when
// re has no groups. A string that does not match becomes "".
func MatchRegexp(re *regexp.Regexp) Stage {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		m := re.FindStringSubmatch(s)
		switch {
		case m == nil:
			return "", parseErr("match_regexp", v, fmt.Errorf("no match for %s", re))
		case len(m) > 1:
			return m[1], nil
		default:
			return m[0], nil
		}
	}
}

// TakeFirstNonEmpty applies inner to each candidate in order and returns the
// first result that is neither empty nor zero. Blank string candidates are
// skipped before inner runs, so a numeric inner stage cannot turn an empty
// text node into a 0 that shadows a later value. A single non-slice value is
// treated as one candidate. If nothing qualifies the result is nil, with the
// first candidate error if there was one.
func TakeFirstNonEmpty(inner Stage) Stage {
	return func(v any) (any, error) {
		var firstErr error
		for _, candidate := range candidates(v) {
			if s, ok := candidate.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			out, err := inner(candidate)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if !blank(out) {
				return out, nil
			}
		}
		return nil, firstErr
	}
}

// blank extends IsEmpty with zero numbers and false.
func blank(v any) bool {
	switch t := v.(type) {
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	default:
		return IsEmpty(v)
	}
}

func candidates(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
