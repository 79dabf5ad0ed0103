// Package quality scores a cleaned dataset and renders its quality report.
package quality

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/foodgeo/internal/model"
)

// Grade thresholds, inclusive.
const (
	thresholdA = 90.0
	thresholdB = 75.0
	thresholdC = 60.0
	thresholdD = 40.0
)

// Input is everything Score needs. None of it is mutated.
type Input struct {
	Category       string
	Records        []model.CleanRecord // survivors of deduplication
	PreDedupCount  int
	DuplicateCount int
	Dropped        int
	Geo            []model.GeoResult // one per distinct location looked up this run
	FieldErrors    []model.FieldCount
}

// Score computes the QualityReport for in. It is a pure function: the same
// input always yields the same report.
//
// The overall score is the mean of completeness, 100 minus the duplicate
// rate, and the geocoding success rate. Completeness counts schema fields
// only; coordinates are covered by the geocoding rate.
func Score(in Input) model.QualityReport {
	rep := model.QualityReport{
		Category:       in.Category,
		TotalRecords:   len(in.Records),
		PreDedupCount:  in.PreDedupCount,
		DroppedRecords: in.Dropped,
		DuplicateCount: in.DuplicateCount,
		FieldErrors:    append([]model.FieldCount(nil), in.FieldErrors...),
	}

	missing := make([]int, len(model.Schema))
	totalMissing := 0
	for i := range in.Records {
		r := &in.Records[i]
		for fi, f := range model.Schema {
			if f.Missing(r) {
				missing[fi]++
				totalMissing++
			}
		}
	}
	rep.MissingByField = make([]model.FieldCount, len(model.Schema))
	for fi, f := range model.Schema {
		rep.MissingByField[fi] = model.FieldCount{Field: f.Name, Count: missing[fi]}
	}

	if cells := len(in.Records) * len(model.Schema); cells > 0 {
		rep.CompletenessPct = 100 * float64(cells-totalMissing) / float64(cells)
	}
	if in.PreDedupCount > 0 {
		rep.DuplicatePct = 100 * float64(in.DuplicateCount) / float64(in.PreDedupCount)
	}

	rep.GeoAttempted = len(in.Geo)
	for _, g := range in.Geo {
		if g.Success {
			rep.GeoSucceeded++
		}
	}
	rep.GeocodingSuccessPct = 100
	if rep.GeoAttempted > 0 {
		rep.GeocodingSuccessPct = 100 * float64(rep.GeoSucceeded) / float64(rep.GeoAttempted)
	}

	rep.Score = (rep.CompletenessPct + (100 - rep.DuplicatePct) + rep.GeocodingSuccessPct) / 3
	rep.Grade = GradeFor(rep.Score)
	rep.Bounds = bounds(in.Records)
	return rep
}

// GradeFor maps a 0–100 score to a letter. A score exactly on a threshold
// gets the higher grade.
func GradeFor(score float64) model.Grade {
	switch {
	case score >= thresholdA:
		return model.GradeA
	case score >= thresholdB:
		return model.GradeB
	case score >= thresholdC:
		return model.GradeC
	case score >= thresholdD:
		return model.GradeD
	default:
		return model.GradeF
	}
}

func bounds(records []model.CleanRecord) *model.Bounds {
	var flat []float64
	for i := range records {
		if records[i].Geocoded() {
			flat = append(flat, records[i].Longitude.Value, records[i].Latitude.Value)
		}
	}
	if len(flat) == 0 {
		return nil
	}
	b := geom.NewMultiPointFlat(geom.XY, flat).SetSRID(4326).Bounds()
	return &model.Bounds{
		MinLon: b.Min(0),
		MinLat: b.Min(1),
		MaxLon: b.Max(0),
		MaxLat: b.Max(1),
	}
}
