package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/foodgeo/internal/config"
	"github.com/sells-group/foodgeo/internal/enrich"
	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/normalize"
	"github.com/sells-group/foodgeo/internal/resilience"
	"github.com/sells-group/foodgeo/internal/store"
	"github.com/sells-group/foodgeo/pkg/geocode"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	records []model.RawRecord
	err     error
	onFetch func()
}

func (f *fakeSource) Fetch(_ context.Context, _ string, maxItems int) ([]model.RawRecord, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.RawRecord, 0, len(f.records))
	for _, r := range f.records {
		cp := make(model.RawRecord, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	if maxItems > 0 && len(out) > maxItems {
		out = out[:maxItems]
	}
	return out, nil
}

type fakeResolver struct {
	mu     sync.Mutex
	calls  map[string]int
	coords map[string][2]float64
	onCall func()
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls: map[string]int{},
		coords: map[string][2]float64{
			"Paris": {48.8566, 2.3522},
			"Lyon":  {45.7640, 4.8357},
		},
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, q string) (*geocode.Result, error) {
	f.mu.Lock()
	f.calls[q]++
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := f.coords[q]
	if !ok {
		return nil, geocode.ErrNoMatch
	}
	return &geocode.Result{Latitude: c[0], Longitude: c[1], Label: q, Score: 0.95, Source: "fake"}, nil
}

func (f *fakeResolver) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// countingNormalizer counts Normalize invocations across every normalizer a
// pipeline creates.
type countingNormalizer struct {
	*normalize.Normalizer
	calls *atomic.Int64
}

func (c countingNormalizer) Normalize(raw model.RawRecord) (model.CleanRecord, error) {
	c.calls.Add(1)
	return c.Normalizer.Normalize(raw)
}

// recordingStore remembers every status transition.
type recordingStore struct {
	*store.SQLiteStore
	mu       sync.Mutex
	statuses []model.RunStatus
}

func (s *recordingStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return s.SQLiteStore.UpdateRunStatus(ctx, id, status)
}

// failingCommitStore opens real index transactions whose Commit fails.
type failingCommitStore struct {
	store.Store
}

func (s failingCommitStore) BeginIndex(ctx context.Context, category string) (store.IndexTx, error) {
	tx, err := s.Store.BeginIndex(ctx, category)
	if err != nil {
		return nil, err
	}
	return failingTx{IndexTx: tx}, nil
}

type failingTx struct {
	store.IndexTx
}

func (failingTx) Commit(context.Context) error { return errors.New("disk I/O error") }

type stubRecommender struct{ text string }

func (s stubRecommender) Recommend(context.Context, model.QualityReport) (string, error) {
	return s.text, nil
}

type fakePublisher struct {
	files []string
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, files []string) error {
	f.files = append(f.files, files...)
	return f.err
}

type harness struct {
	t         *testing.T
	dir       string
	store     *recordingStore
	source    *fakeSource
	geo       *fakeResolver
	normCalls *atomic.Int64
	deps      Deps
}

func newHarness(t *testing.T, records []model.RawRecord) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "foodgeo.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	h := &harness{
		t:         t,
		dir:       filepath.Join(dir, "processed"),
		store:     &recordingStore{SQLiteStore: st},
		source:    &fakeSource{records: records},
		geo:       newFakeResolver(),
		normCalls: &atomic.Int64{},
	}
	h.deps = Deps{
		Source:   h.source,
		Store:    h.store,
		Resolver: h.geo,
		EnrichOptions: []enrich.Option{
			enrich.WithMinInterval(0),
			enrich.WithConcurrency(2),
			enrich.WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}),
		},
		NewNormalizer: func(at time.Time) Normalizer {
			return countingNormalizer{Normalizer: normalize.New(normalize.WithFetchTime(at)), calls: h.normCalls}
		},
		Now: func() time.Time { return testNow },
	}
	return h
}

func (h *harness) pipeline() *Pipeline {
	return New(h.deps, config.PipelineConfig{OutputDir: h.dir})
}

func (h *harness) run(ctx context.Context, req Request) (*Result, error) {
	if req.Category == "" {
		req.Category = "chocolats"
	}
	return h.pipeline().Run(ctx, req)
}

func (h *harness) index() model.Index {
	h.t.Helper()
	ix, err := h.store.LoadIndex(context.Background(), "chocolats")
	require.NoError(h.t, err)
	return ix
}

func product(code, name, brand, store string) model.RawRecord {
	return model.RawRecord{
		"code":             code,
		"product_name":     name,
		"brands":           brand,
		"categories":       "Chocolats",
		"countries":        "France",
		"nutriscore_grade": "E",
		"stores":           store,
		"energy_100g":      2200.0,
		"sugars_100g":      45.5,
		"fat_100g":         31.0,
		"salt_100g":        0.1,
		"nova_group":       4.0,
	}
}

// scenario is ten products: two are the same product under different codes,
// one has a non-numeric sugar value, and three distinct store locations are
// referenced, one of which the geocoder cannot resolve.
func scenario() []model.RawRecord {
	recs := []model.RawRecord{
		product("0001", "noir intense", "Lindt", "Paris"),
		product("0002", "lait noisettes", "Milka", "Paris"),
		product("0003", "blanc coco", "Côte d'Or", "Paris"),
		product("0004", "praliné", "Ferrero", "Lyon"),
		product("0005", "caramel salé", "Lindt", "Lyon"),
		product("0006", "orange", "Nestlé", "Marseille"),
		product("0007", "menthe", "After Eight", "Marseille"),
		product("0008", "piment", "Lindt", "Lyon"),
		product("0009", "tablette noire", "Côte d'Or", "Lyon"),
		product("0010", "tablette noire", "Côte d'Or", "Lyon"),
	}
	recs[2]["sugars_100g"] = "beaucoup"
	return recs
}

func codes(recs []model.CleanRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Code
	}
	return out
}

func extraProduct(n int) model.RawRecord {
	return product(fmt.Sprintf("1%03d", n), fmt.Sprintf("nouveau %d", n), "Lindt", "Paris")
}
