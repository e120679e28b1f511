package steam

import (
	"strings"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/record"
)

// ReleaseDate reads store release dates such as "Nov 19, 2020", and
// "Early 2021" style announcements.
var ReleaseDate = coerce.DateParser("Jan 2, 2006", "Jan 2 2006", "2 Jan, 2006")

// RemoveLinkFilter unwraps an external link guarded by the steam link
// filter. Values without a query parameter have no usable target.
func RemoveLinkFilter(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	i := strings.LastIndex(s, "=")
	if i < 0 {
		return nil, nil
	}
	return s[i+1:], nil
}

// TransformStripUnicodeName is the name of the transform that folds record
// names to ASCII.
const TransformStripUnicodeName = "strip_unicode_name"

// RegisterTransforms adds the steam transforms to t.
func RegisterTransforms(t *pipeline.Transforms) error {
	return t.Register(TransformStripUnicodeName, stripUnicodeName)
}

func stripUnicodeName(rec *record.Record) (*record.Record, error) {
	v, ok := rec.Get("name")
	if !ok {
		return rec, nil
	}
	out, err := coerce.Pipeline{coerce.StripUnicode, coerce.StripWhitespace}.Apply(v, coerce.Strict)
	if err != nil {
		return nil, err
	}
	if err := rec.Set("name", out); err != nil {
		return nil, err
	}
	return rec, nil
}
