// Package normalize turns untyped catalog records into the fixed record schema.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/foodgeo/internal/model"
)

// ErrMissingIdentifier is returned for records without a usable code. The
// record is dropped; the run continues.
var ErrMissingIdentifier = eris.New("normalize: missing identifier")

// sentinels are raw values treated as missing, compared case-insensitively
// after trimming.
var sentinels = map[string]struct{}{
	"":        {},
	"n/a":     {},
	"na":      {},
	"-":       {},
	"null":    {},
	"none":    {},
	"unknown": {},
}

// Tally counts numeric parse failures per field. Safe for concurrent use.
type Tally struct {
	mu   sync.Mutex
	errs map[string]int
}

func newTally() *Tally { return &Tally{errs: make(map[string]int)} }

func (t *Tally) add(field string) {
	t.mu.Lock()
	t.errs[field]++
	t.mu.Unlock()
}

// Total returns the number of failures across all fields.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.errs {
		n += c
	}
	return n
}

// Counts returns the per-field failure counts in schema order, including zeros.
func (t *Tally) Counts() []model.FieldCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.FieldCount, 0, len(model.Schema))
	for _, f := range model.Schema {
		if f.Kind != model.KindNumeric {
			continue
		}
		out = append(out, model.FieldCount{Field: f.Name, Count: t.errs[f.Name]})
	}
	return out
}

// Normalizer coerces RawRecords into CleanRecords.
type Normalizer struct {
	fetchedAt time.Time
	tally     *Tally
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFetchTime sets the ingestion time used when a record carries no
// modification timestamp of its own.
func WithFetchTime(t time.Time) Option {
	return func(n *Normalizer) { n.fetchedAt = t.UTC() }
}

// New creates a Normalizer with a fresh error tally.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{fetchedAt: time.Now().UTC(), tally: newTally()}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Tally returns the per-field numeric parse failure counter.
func (n *Normalizer) Tally() *Tally { return n.tally }

// Normalize converts one raw record. Unparseable numerics become missing and
// are tallied; only a missing identifier is an error.
func (n *Normalizer) Normalize(raw model.RawRecord) (model.CleanRecord, error) {
	code, ok := Identifier(raw.ID())
	if !ok {
		return model.CleanRecord{}, ErrMissingIdentifier
	}

	rec := model.CleanRecord{Code: code, IngestedAt: n.ingestedAt(raw)}
	for _, f := range model.Schema {
		switch {
		case f.Text != nil:
			*f.Text(&rec) = Text(raw[f.Name], f.Case)
		case f.Num != nil:
			v, err := Number(raw[f.Name])
			if err != nil {
				n.tally.add(f.Name)
			}
			*f.Num(&rec) = v
		}
	}
	return rec, nil
}

func (n *Normalizer) ingestedAt(raw model.RawRecord) time.Time {
	v, err := Number(raw["last_modified_t"])
	if err != nil || !v.Valid || v.Value <= 0 {
		return n.fetchedAt
	}
	return time.Unix(int64(v.Value), 0).UTC()
}

// Identifier returns the cleaned identifier of a raw value, or false when it
// is absent or a missing-value sentinel.
func Identifier(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		s = fmt.Sprint(x)
	}
	s = Clean(s)
	if isSentinel(s) {
		return "", false
	}
	return s, true
}

// Text normalizes a raw text value under the given case policy.
func Text(v any, policy model.CasePolicy) model.Text {
	var s string
	switch x := v.(type) {
	case nil:
		return model.Text{}
	case string:
		s = x
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			if ps, ok := p.(string); ok {
				parts = append(parts, ps)
			}
		}
		s = strings.Join(parts, ", ")
	default:
		s = fmt.Sprint(x)
	}

	s = Clean(s)
	if isSentinel(s) {
		return model.Text{}
	}
	switch policy {
	case model.CaseLower:
		s = cases.Lower(language.Und).String(s)
	case model.CaseTitle:
		s = cases.Title(language.Und).String(s)
	}
	return model.SomeText(s)
}

// Number parses a raw numeric value. Sentinels and absent values are missing
// without error; anything else that is not a finite number is missing with
// an error.
func Number(v any) (model.Number, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return model.Number{}, nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return model.Number{}, eris.Wrapf(err, "normalize: parse number %q", x.String())
		}
		f = p
	case string:
		s := Clean(x)
		if isSentinel(s) {
			return model.Number{}, nil
		}
		if !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Number{}, eris.Wrapf(err, "normalize: parse number %q", x)
		}
		f = p
	default:
		return model.Number{}, eris.Errorf("normalize: unsupported numeric type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return model.Number{}, eris.Errorf("normalize: non-finite number %v", f)
	}
	return model.SomeNumber(f), nil
}

// Clean strips control characters, trims, and collapses runs of whitespace.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func isSentinel(s string) bool {
	_, ok := sentinels[strings.ToLower(s)]
	return ok
}
