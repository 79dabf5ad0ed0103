package model

import "time"

// RawRecord is one catalog product as decoded from JSON, untyped.
type RawRecord map[string]any

// ID returns the raw identifier value, or nil.
func (r RawRecord) ID() any { return r["code"] }

// CleanRecord is a RawRecord after normalization. Code is never empty.
// Coordinates and H3Cell stay missing until the enricher resolves Stores.
type CleanRecord struct {
	Code            string
	ProductName     Text
	Brands          Text
	Categories      Text
	Countries       Text
	NutriscoreGrade Text
	Stores          Text
	Energy          Number
	Sugars          Number
	Fat             Number
	Salt            Number
	NovaGroup       Number
	IngestedAt      time.Time

	Latitude  Number
	Longitude Number
	GeoLabel  string
	GeoCity   string
	H3Cell    string
}

// MissingCount returns how many schema fields are missing.
func (r *CleanRecord) MissingCount() int {
	n := 0
	for _, f := range Schema {
		if f.Missing(r) {
			n++
		}
	}
	return n
}

// Geocoded reports whether the record carries coordinates.
func (r *CleanRecord) Geocoded() bool {
	return r.Latitude.Valid && r.Longitude.Valid
}

// SugarCategory bins sugars_100g into the labels used by the dashboard.
func (r *CleanRecord) SugarCategory() Text {
	if !r.Sugars.Valid {
		return Text{}
	}
	switch s := r.Sugars.Value; {
	case s <= 5:
		return SomeText("faible")
	case s <= 15:
		return SomeText("modéré")
	case s <= 30:
		return SomeText("élevé")
	default:
		return SomeText("très_élevé")
	}
}
