package model

// Grade is the A–F letter summarizing a QualityReport.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Bounds is the bounding box of geocoded records.
type Bounds struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// FieldCount is a per-field counter kept in schema order so reports render
// deterministically.
type FieldCount struct {
	Field string `json:"field" yaml:"field"`
	Count int    `json:"count" yaml:"count"`
}

// QualityReport summarizes one pipeline run. It is immutable once scored.
type QualityReport struct {
	Category            string       `json:"category" yaml:"category"`
	TotalRecords        int          `json:"total_records" yaml:"total_records"`
	PreDedupCount       int          `json:"pre_dedup_count" yaml:"pre_dedup_count"`
	DroppedRecords      int          `json:"dropped_records" yaml:"dropped_records"`
	CompletenessPct     float64      `json:"completeness_pct" yaml:"completeness_pct"`
	DuplicateCount      int          `json:"duplicate_count" yaml:"duplicate_count"`
	DuplicatePct        float64      `json:"duplicate_pct" yaml:"duplicate_pct"`
	GeoAttempted        int          `json:"geo_attempted" yaml:"geo_attempted"`
	GeoSucceeded        int          `json:"geo_succeeded" yaml:"geo_succeeded"`
	GeocodingSuccessPct float64      `json:"geocoding_success_pct" yaml:"geocoding_success_pct"`
	Score               float64      `json:"score" yaml:"score"`
	Grade               Grade        `json:"grade" yaml:"grade"`
	MissingByField      []FieldCount `json:"missing_by_field" yaml:"missing_by_field"`
	FieldErrors         []FieldCount `json:"field_errors" yaml:"field_errors"`
	Bounds              *Bounds      `json:"bounds,omitempty" yaml:"bounds,omitempty"`
}
