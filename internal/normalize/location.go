package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LocationKey folds a location string into the key used to deduplicate
// geocoding lookups: accents removed, lower case, whitespace collapsed.
// "  Carrefour  Évry " and "carrefour evry" share a key.
func LocationKey(s string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.ToLower(s),
	)
	if err != nil {
		folded = strings.ToLower(s)
	}
	return Clean(folded)
}

// CompositeKey returns the name|brand|location dedup key, or "" when any part
// is missing.
func CompositeKey(name, brand, location string) string {
	if name == "" || brand == "" || location == "" {
		return ""
	}
	return LocationKey(name) + "|" + LocationKey(brand) + "|" + LocationKey(location)
}
