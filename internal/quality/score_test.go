package quality

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foodgeo/internal/model"
)

func fullRecord(code string) model.CleanRecord {
	r := model.CleanRecord{Code: code}
	for _, f := range model.Schema {
		switch {
		case f.Text != nil:
			*f.Text(&r) = model.SomeText("x")
		case f.Num != nil:
			*f.Num(&r) = model.SomeNumber(1)
		}
	}
	return r
}

func TestGradeFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Grade
	}{
		{100, model.GradeA},
		{90, model.GradeA},
		{89.999, model.GradeB},
		{75, model.GradeB},
		{60, model.GradeC},
		{59.99, model.GradeD},
		{40, model.GradeD},
		{39.99, model.GradeF},
		{0, model.GradeF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tt.score), "score %v", tt.score)
	}
}

func TestScore_Perfect(t *testing.T) {
	rep := Score(Input{
		Records:       []model.CleanRecord{fullRecord("1"), fullRecord("2")},
		PreDedupCount: 2,
	})
	assert.InDelta(t, 100, rep.CompletenessPct, 1e-9)
	assert.Zero(t, rep.DuplicatePct)
	assert.InDelta(t, 100, rep.GeocodingSuccessPct, 1e-9)
	assert.Equal(t, model.GradeA, rep.Grade)
	assert.Nil(t, rep.Bounds)
}

func TestScore_EmptyInput(t *testing.T) {
	rep := Score(Input{})
	assert.Zero(t, rep.CompletenessPct)
	assert.Zero(t, rep.DuplicatePct)
	assert.InDelta(t, 100, rep.GeocodingSuccessPct, 1e-9)
	assert.Len(t, rep.MissingByField, len(model.Schema))
}

func TestScore_Metrics(t *testing.T) {
	a := fullRecord("1")
	a.Sugars = model.Number{}
	b := fullRecord("2")
	b.Brands = model.Text{}
	b.Stores = model.Text{}
	b.Latitude, b.Longitude = model.SomeNumber(48.8), model.SomeNumber(2.3)
	c := fullRecord("3")
	c.Latitude, c.Longitude = model.SomeNumber(45.7), model.SomeNumber(4.8)

	rep := Score(Input{
		Category:       "chocolats",
		Records:        []model.CleanRecord{a, b, c},
		PreDedupCount:  4,
		DuplicateCount: 1,
		Geo: []model.GeoResult{
			{Key: "a", Success: true}, {Key: "b", Success: true}, {Key: "c"}, {Key: "d"},
		},
		FieldErrors: []model.FieldCount{{Field: "sugars_100g", Count: 1}},
	})

	cells := 3 * len(model.Schema)
	assert.InDelta(t, 100*float64(cells-3)/float64(cells), rep.CompletenessPct, 1e-9)
	assert.InDelta(t, 25, rep.DuplicatePct, 1e-9)
	assert.InDelta(t, 50, rep.GeocodingSuccessPct, 1e-9)
	assert.Equal(t, 4, rep.GeoAttempted)
	assert.Equal(t, 2, rep.GeoSucceeded)
	assert.InDelta(t, (rep.CompletenessPct+75+50)/3, rep.Score, 1e-9)
	assert.Equal(t, GradeFor(rep.Score), rep.Grade)

	missing := map[string]int{}
	for _, fc := range rep.MissingByField {
		missing[fc.Field] = fc.Count
	}
	assert.Equal(t, 1, missing["sugars_100g"])
	assert.Equal(t, 1, missing["brands"])
	assert.Equal(t, 1, missing["stores"])
	assert.Equal(t, 0, missing["code"])

	require.NotNil(t, rep.Bounds)
	assert.InDelta(t, 45.7, rep.Bounds.MinLat, 1e-9)
	assert.InDelta(t, 48.8, rep.Bounds.MaxLat, 1e-9)
	assert.InDelta(t, 2.3, rep.Bounds.MinLon, 1e-9)
	assert.InDelta(t, 4.8, rep.Bounds.MaxLon, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	in := Input{
		Records:        []model.CleanRecord{fullRecord("1"), fullRecord("2")},
		PreDedupCount:  3,
		DuplicateCount: 1,
		Geo:            []model.GeoResult{{Key: "a", Success: true}, {Key: "b"}, {Key: "c", Success: true}},
		FieldErrors:    []model.FieldCount{{Field: "fat_100g", Count: 2}},
	}
	first := Score(in)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Score(in)); diff != "" {
			t.Fatalf("score changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestScore_DoesNotAliasFieldErrors(t *testing.T) {
	errs := []model.FieldCount{{Field: "fat_100g", Count: 2}}
	rep := Score(Input{FieldErrors: errs})
	errs[0].Count = 99
	assert.Equal(t, 2, rep.FieldErrors[0].Count)
}
