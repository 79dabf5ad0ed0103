package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/foodgeo/internal/model"
)

// FormatMarkdown renders the human-readable report. generatedAt only appears
// in the header; everything else comes from rep and narrative.
func FormatMarkdown(rep model.QualityReport, narrative string, generatedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Data Quality Report: %s\n", rep.Category)
	fmt.Fprintf(&b, "Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Grade\n")
	fmt.Fprintf(&b, "**%s** (score %.1f/100)\n\n", rep.Grade, rep.Score)

	b.WriteString("## Completeness\n")
	fmt.Fprintf(&b, "- Records: %d\n", rep.TotalRecords)
	fmt.Fprintf(&b, "- Completeness: %.1f%%\n", rep.CompletenessPct)
	if rep.DroppedRecords > 0 {
		fmt.Fprintf(&b, "- Dropped (no identifier): %d\n", rep.DroppedRecords)
	}
	b.WriteString("\n")

	b.WriteString("## Duplicate Rate\n")
	fmt.Fprintf(&b, "- Duplicates removed: %d of %d\n", rep.DuplicateCount, rep.PreDedupCount)
	fmt.Fprintf(&b, "- Duplicate rate: %.1f%%\n\n", rep.DuplicatePct)

	b.WriteString("## Geocoding Success\n")
	if rep.GeoAttempted == 0 {
		b.WriteString("- No locations to geocode\n")
	} else {
		fmt.Fprintf(&b, "- Locations resolved: %d of %d\n", rep.GeoSucceeded, rep.GeoAttempted)
	}
	fmt.Fprintf(&b, "- Success rate: %.1f%%\n\n", rep.GeocodingSuccessPct)

	b.WriteString("## Missing Values\n")
	b.WriteString("| Field | Missing | % |\n|---|---:|---:|\n")
	for _, fc := range rep.MissingByField {
		pct := 0.0
		if rep.TotalRecords > 0 {
			pct = 100 * float64(fc.Count) / float64(rep.TotalRecords)
		}
		fmt.Fprintf(&b, "| %s | %d | %.1f |\n", fc.Field, fc.Count, pct)
	}
	b.WriteString("\n")

	var errs []model.FieldCount
	for _, fc := range rep.FieldErrors {
		if fc.Count > 0 {
			errs = append(errs, fc)
		}
	}
	if len(errs) > 0 {
		b.WriteString("## Field Errors\n")
		for _, fc := range errs {
			fmt.Fprintf(&b, "- %s: %d unparseable value(s)\n", fc.Field, fc.Count)
		}
		b.WriteString("\n")
	}

	if rep.Bounds != nil {
		b.WriteString("## Spatial Coverage\n")
		fmt.Fprintf(&b, "- Latitude: %.4f to %.4f\n", rep.Bounds.MinLat, rep.Bounds.MaxLat)
		fmt.Fprintf(&b, "- Longitude: %.4f to %.4f\n\n", rep.Bounds.MinLon, rep.Bounds.MaxLon)
	}

	b.WriteString("## Recommendations\n")
	if strings.TrimSpace(narrative) == "" {
		b.WriteString("_No recommendations available._\n")
	} else {
		b.WriteString(strings.TrimSpace(narrative))
		b.WriteString("\n")
	}

	return b.String()
}

// MarshalYAML renders the machine-readable report sidecar.
func MarshalYAML(rep model.QualityReport) ([]byte, error) {
	out, err := yaml.Marshal(rep)
	if err != nil {
		return nil, eris.Wrap(err, "quality: marshal yaml")
	}
	return out, nil
}

// UnmarshalYAML parses a sidecar written by MarshalYAML.
func UnmarshalYAML(data []byte) (model.QualityReport, error) {
	var rep model.QualityReport
	if err := yaml.Unmarshal(data, &rep); err != nil {
		return rep, eris.Wrap(err, "quality: unmarshal yaml")
	}
	return rep, nil
}
