package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foodgeo/internal/model"
)

func sampleRecords() []model.CleanRecord {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.CleanRecord{
		{
			Code:            "3017620422003",
			ProductName:     model.SomeText("Nutella"),
			Brands:          model.SomeText("ferrero"),
			NutriscoreGrade: model.SomeText("e"),
			Stores:          model.SomeText("Carrefour Paris"),
			Energy:          model.SomeNumber(2252),
			Sugars:          model.SomeNumber(56.3),
			Latitude:        model.SomeNumber(48.8566),
			Longitude:       model.SomeNumber(2.3522),
			GeoLabel:        "Paris",
			GeoCity:         "Paris",
			H3Cell:          "871fb4662ffffff",
			IngestedAt:      at,
		},
		{
			Code:        "0001",
			ProductName: model.SomeText("Carré Noir"),
			Sugars:      model.SomeNumber(4),
			IngestedAt:  at.Add(time.Hour),
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chocolats.parquet")
	ctx := context.Background()

	n, err := Write(ctx, path, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := Read(ctx, path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Rows come back ordered by code.
	want := sampleRecords()
	want[0], want[1] = want[1], want[0]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_DerivedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chocolats.parquet")
	ctx := context.Background()
	_, err := Write(ctx, path, sampleRecords())
	require.NoError(t, err)

	db := openDuck(t)
	rows, err := db.QueryContext(ctx,
		"SELECT code, sugar_category, is_geocoded FROM read_parquet('"+path+"') ORDER BY code")
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	type row struct {
		code, sugar string
		geocoded    bool
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.code, &r.sugar, &r.geocoded))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []row{
		{code: "0001", sugar: "faible", geocoded: false},
		{code: "3017620422003", sugar: "très_élevé", geocoded: true},
	}, got)
}

func TestWrite_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chocolats.parquet")
	ctx := context.Background()

	_, err := Write(ctx, path, sampleRecords())
	require.NoError(t, err)
	_, err = Write(ctx, path, sampleRecords()[:1])
	require.NoError(t, err)

	got, err := Read(ctx, path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWrite_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	n, err := Write(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := Read(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWrite_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "x.parquet")
	_, err := Write(context.Background(), path, sampleRecords())
	assert.ErrorContains(t, err, "write parquet")
}

func TestRead_MissingFile(t *testing.T) {
	got, err := Read(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMerge(t *testing.T) {
	prior := []model.CleanRecord{
		{Code: "b", ProductName: model.SomeText("Old")},
		{Code: "a"},
	}
	fresh := []model.CleanRecord{
		{Code: "c"},
		{Code: "b", ProductName: model.SomeText("New")},
	}

	got := Merge(prior, fresh)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Code, got[1].Code, got[2].Code})
	assert.Equal(t, "New", got[1].ProductName.Value)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it''s.parquet'`, quote("it's.parquet"))
}
