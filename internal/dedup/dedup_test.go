package dedup

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foodgeo/internal/model"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func rec(code, name, brand, store string, age time.Duration) model.CleanRecord {
	r := model.CleanRecord{Code: code, IngestedAt: t0.Add(-age)}
	if name != "" {
		r.ProductName = model.SomeText(name)
	}
	if brand != "" {
		r.Brands = model.SomeText(brand)
	}
	if store != "" {
		r.Stores = model.SomeText(store)
	}
	return r
}

func codes(rs []model.CleanRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Code
	}
	return out
}

func TestDeduplicate_Empty(t *testing.T) {
	out, n := Deduplicate(nil)
	assert.Empty(t, out)
	assert.Zero(t, n)
}

func TestDeduplicate_SameIdentifierKeepsMostComplete(t *testing.T) {
	sparse := rec("100", "Tablette", "", "", 0)
	full := rec("100", "Tablette", "lindt", "Monoprix", time.Hour)

	out, n := Deduplicate([]model.CleanRecord{sparse, full})
	require.Len(t, out, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, "lindt", out[0].Brands.Value)
}

func TestDeduplicate_CompositeKeyNewestWins(t *testing.T) {
	older := rec("200", "Tablette", "lindt", "Monoprix", 48*time.Hour)
	newer := rec("201", "TABLETTE", "Lindt", "monoprix", time.Hour)

	out, n := Deduplicate([]model.CleanRecord{older, newer})
	require.Len(t, out, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, "201", out[0].Code)
}

func TestDeduplicate_SmallestCodeBreaksTies(t *testing.T) {
	a := rec("310", "Barre", "mars", "Lidl", 0)
	b := rec("305", "Barre", "mars", "Lidl", 0)
	out, _ := Deduplicate([]model.CleanRecord{a, b})
	assert.Equal(t, []string{"305"}, codes(out))
}

func TestDeduplicate_CompositeNeedsAllParts(t *testing.T) {
	a := rec("1", "Barre", "", "Lidl", 0)
	b := rec("2", "Barre", "", "Lidl", 0)
	out, n := Deduplicate([]model.CleanRecord{a, b})
	assert.Len(t, out, 2)
	assert.Zero(t, n)
}

func TestDeduplicate_Transitive(t *testing.T) {
	// a~b by code, b~c by composite key.
	a := rec("1", "Cookie", "", "", 0)
	b := rec("1", "Biscuit", "lu", "Auchan", 0)
	c := rec("9", "Biscuit", "lu", "Auchan", time.Hour)

	out, n := Deduplicate([]model.CleanRecord{a, b, c})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1"}, codes(out))
}

func TestDeduplicate_OrderIndependentAndSorted(t *testing.T) {
	in := []model.CleanRecord{
		rec("c", "X", "b1", "s1", 0),
		rec("a", "Y", "b2", "s2", 0),
		rec("b", "X", "b1", "s1", time.Minute),
		rec("d", "Z", "", "", 0),
		rec("a", "Y", "", "", 0),
	}
	want, wantN := Deduplicate(in)
	assert.Equal(t, []string{"a", "c", "d"}, codes(want))

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.CleanRecord(nil), in...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, n := Deduplicate(shuffled)
		assert.Equal(t, wantN, n)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("order-dependent result (-want +got):\n%s", diff)
		}
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	in := []model.CleanRecord{
		rec("1", "A", "x", "s", 0),
		rec("2", "A", "x", "s", time.Hour),
		rec("3", "B", "y", "t", 0),
		rec("3", "B", "", "", 0),
	}
	once, _ := Deduplicate(in)
	twice, n := Deduplicate(once)
	assert.Zero(t, n)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second pass changed output (-once +twice):\n%s", diff)
	}
}

func TestBetter_SameCodeFallsBackToContent(t *testing.T) {
	a := rec("7", "Alpha", "x", "s", 0)
	b := rec("7", "Beta", "x", "s", 0)
	assert.True(t, Better(&a, &b))
	assert.False(t, Better(&b, &a))

	// Same missing count, different fields missing: a present zero must not
	// tie with a missing value.
	c := rec("8", "Gamma", "x", "s", 0)
	c.Fat = model.SomeNumber(0)
	d := rec("8", "Gamma", "x", "s", 0)
	d.Energy = model.SomeNumber(0)
	assert.True(t, Better(&d, &c))
	assert.False(t, Better(&c, &d))

	for _, in := range [][]model.CleanRecord{{c, d}, {d, c}} {
		out, dups := Deduplicate(in)
		require.Len(t, out, 1)
		assert.Equal(t, 1, dups)
		assert.True(t, out[0].Energy.Valid)
		assert.False(t, out[0].Fat.Valid)
	}
}
