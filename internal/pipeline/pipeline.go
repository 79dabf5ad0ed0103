// Package pipeline runs one category through fetch, normalize, dedup,
// enrich, score and persist, recording every transition in the run log.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/config"
	"github.com/sells-group/foodgeo/internal/dedup"
	"github.com/sells-group/foodgeo/internal/enrich"
	"github.com/sells-group/foodgeo/internal/fetcher"
	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/normalize"
	"github.com/sells-group/foodgeo/internal/quality"
	"github.com/sells-group/foodgeo/internal/snapshot"
	"github.com/sells-group/foodgeo/internal/store"
)

var (
	// ErrExhausted means the run had no usable records: the source returned
	// nothing, or nothing survived normalization.
	ErrExhausted = eris.New("pipeline: no usable records")

	// ErrPersistence means the commit of snapshot, index and report failed.
	// The previously committed state is untouched.
	ErrPersistence = eris.New("pipeline: persistence failed")

	// ErrCancelled means the run context was cancelled before commit.
	ErrCancelled = eris.New("pipeline: cancelled")
)

// Normalizer converts raw records. *normalize.Normalizer implements it.
type Normalizer interface {
	Normalize(raw model.RawRecord) (model.CleanRecord, error)
	Tally() *normalize.Tally
}

// Publisher mirrors committed files somewhere else. *publish.S3Publisher
// implements it.
type Publisher interface {
	Publish(ctx context.Context, category string, files []string) error
}

// SnapshotWriter writes the Parquet snapshot to path.
type SnapshotWriter func(ctx context.Context, path string, records []model.CleanRecord) (int, error)

// Deps are the collaborators of a Pipeline. Source and Store are required;
// Resolver is required unless every run skips enrichment.
type Deps struct {
	Source        fetcher.Source
	Store         store.Store
	Resolver      enrich.Resolver
	EnrichOptions []enrich.Option
	Recommender   quality.Recommender
	Publisher     Publisher

	// Optional overrides, mostly for tests.
	NewNormalizer func(fetchedAt time.Time) Normalizer
	WriteSnapshot SnapshotWriter
	Now           func() time.Time
}

// Request selects what one run does.
type Request struct {
	Category       string
	MaxItems       int
	Mode           model.RunMode
	DetectChanges  bool
	SkipEnrichment bool
}

// RequestFromConfig returns the request described by the pipeline defaults.
func RequestFromConfig(cfg config.PipelineConfig) Request {
	mode := model.ModeFull
	if cfg.Incremental {
		mode = model.ModeIncremental
	}
	return Request{
		Category:       cfg.Category,
		MaxItems:       cfg.MaxItems,
		Mode:           mode,
		DetectChanges:  cfg.DetectChanges,
		SkipEnrichment: cfg.SkipEnrichment,
	}
}

// Result describes a finished run. Run is always set once the run has been
// recorded; Report and Records are set when scoring was reached.
type Result struct {
	Run     *model.Run
	Report  *model.QualityReport
	Records []model.CleanRecord
	Geo     []model.GeoResult
	Files   []string
}

// Pipeline orchestrates runs.
type Pipeline struct {
	deps      Deps
	outputDir string
}

// New creates a Pipeline writing under cfg.OutputDir.
func New(deps Deps, cfg config.PipelineConfig) *Pipeline {
	if deps.NewNormalizer == nil {
		deps.NewNormalizer = func(t time.Time) Normalizer {
			return normalize.New(normalize.WithFetchTime(t))
		}
	}
	if deps.WriteSnapshot == nil {
		deps.WriteSnapshot = snapshot.Write
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, outputDir: cfg.OutputDir}
}

// Paths returns the snapshot, Markdown report and YAML report paths of a
// category.
func (p *Pipeline) Paths(category string) (parquet, markdown, yamlPath string) {
	base := filepath.Join(p.outputDir, category)
	return base + ".parquet", base + "_quality.md", base + "_quality.yaml"
}

// Run executes one run for req.Category. A low quality grade is a
// successful run; errors mean nothing was committed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Category == "" {
		return nil, eris.New("pipeline: empty category")
	}
	if req.Mode == "" {
		req.Mode = model.ModeFull
	}
	if !req.SkipEnrichment && p.deps.Resolver == nil {
		return nil, eris.New("pipeline: no geocoding resolver configured")
	}

	run, err := p.deps.Store.CreateRun(ctx, req.Category, req.Mode)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("category", req.Category),
		zap.String("mode", string(req.Mode)),
	)
	log.Info("pipeline: starting run")

	r := &runner{
		p:      p,
		req:    req,
		run:    run,
		log:    log,
		start:  p.deps.Now(),
		result: &Result{Run: run},
		stats:  &model.RunResult{},
	}
	err = r.execute(ctx)
	r.stats.DurationMs = p.deps.Now().Sub(r.start).Milliseconds()
	if err != nil {
		return r.fail(ctx, err)
	}
	r.finish(ctx, model.RunStatusDone, "")
	log.Info("pipeline: run complete",
		zap.Int("survivors", r.stats.Survivors),
		zap.Int("geo_calls", r.stats.GeoCalls),
		zap.String("grade", string(r.stats.Grade)),
		zap.Bool("up_to_date", r.stats.UpToDate),
		zap.Int64("duration_ms", r.stats.DurationMs),
	)
	return r.result, nil
}

// runner holds the state of one run as it moves through the stages.
type runner struct {
	p      *Pipeline
	req    Request
	run    *model.Run
	log    *zap.Logger
	start  time.Time
	result *Result
	stats  *model.RunResult
}

func (r *runner) transition(ctx context.Context, status model.RunStatus) {
	r.run.Status = status
	if err := r.p.deps.Store.UpdateRunStatus(context.WithoutCancel(ctx), r.run.ID, status); err != nil {
		r.log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
	}
	r.log.Info("pipeline: stage", zap.String("status", string(status)))
}

func (r *runner) finish(ctx context.Context, status model.RunStatus, errMsg string) {
	r.run.Status = status
	r.run.Error = errMsg
	r.run.Result = r.stats
	if err := r.p.deps.Store.FinishRun(context.WithoutCancel(ctx), r.run.ID, status, r.stats, errMsg); err != nil {
		r.log.Warn("pipeline: failed to record run result", zap.Error(err))
	}
}

func (r *runner) fail(ctx context.Context, err error) (*Result, error) {
	status := model.RunStatusFailed
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = model.RunStatusCancelled
		if !errors.Is(err, ErrCancelled) {
			err = mark(ErrCancelled, err)
		}
	}
	r.finish(ctx, status, err.Error())
	r.log.Error("pipeline: run failed",
		zap.String("status", string(status)),
		zap.Int64("duration_ms", r.stats.DurationMs),
		zap.Error(err),
	)
	return r.result, err
}

// cancelled returns a marked error when ctx is done.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return mark(ErrCancelled, err)
	}
	return nil
}

// mark tags err with a pipeline sentinel, keeping both in the chain.
func mark(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

func (r *runner) execute(ctx context.Context) error {
	deps := r.p.deps

	// fetching
	raws, err := deps.Source.Fetch(ctx, r.req.Category, r.req.MaxItems)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return eris.Wrap(err, "pipeline: fetch")
	}
	r.stats.Fetched = len(raws)
	if len(raws) == 0 {
		return eris.Wrapf(ErrExhausted, "pipeline: source returned no records for %s", r.req.Category)
	}
	if err := cancelled(ctx); err != nil {
		return err
	}

	hashes := make([]string, len(raws))
	for i := range raws {
		h, err := ContentHash(raws[i])
		if err != nil {
			return eris.Wrap(err, "pipeline: hash record")
		}
		hashes[i] = h
	}

	pending := make([]int, 0, len(raws))
	if r.req.Mode == model.ModeIncremental {
		ix, err := deps.Store.LoadIndex(ctx, r.req.Category)
		if err != nil {
			return eris.Wrap(err, "pipeline: load index")
		}
		for i := range raws {
			if r.skip(ix, raws[i], hashes[i]) {
				r.stats.Skipped++
				continue
			}
			pending = append(pending, i)
		}
		r.log.Info("pipeline: incremental filter",
			zap.Int("known", len(ix)),
			zap.Int("skipped", r.stats.Skipped),
			zap.Int("pending", len(pending)),
		)
		if len(pending) == 0 {
			r.stats.UpToDate = true
			return nil
		}
	} else {
		for i := range raws {
			pending = append(pending, i)
		}
	}

	// normalizing
	r.transition(ctx, model.RunStatusNormalizing)
	norm := deps.NewNormalizer(r.start)
	clean := make([]model.CleanRecord, 0, len(pending))
	entries := make(map[string]string, len(pending))
	for _, i := range pending {
		rec, err := norm.Normalize(raws[i])
		if err != nil {
			r.stats.Dropped++
			r.log.Debug("pipeline: record dropped", zap.Int("position", i), zap.Error(err))
			continue
		}
		clean = append(clean, rec)
		entries[rec.Code] = hashes[i]
	}
	r.stats.Normalized = len(clean)
	if len(clean) == 0 {
		return eris.Wrapf(ErrExhausted, "pipeline: all %d records dropped during normalization", len(pending))
	}
	if err := cancelled(ctx); err != nil {
		return err
	}

	// deduplicating
	r.transition(ctx, model.RunStatusDeduplicating)
	survivors, dups := dedup.Deduplicate(clean)
	r.stats.Duplicates = dups
	r.stats.Survivors = len(survivors)

	// enriching
	r.transition(ctx, model.RunStatusEnriching)
	var geo []model.GeoResult
	if r.req.SkipEnrichment {
		r.log.Info("pipeline: enrichment skipped")
	} else {
		enricher := enrich.New(deps.Resolver, deps.EnrichOptions...)
		survivors, geo, err = enricher.Enrich(ctx, survivors)
		r.stats.GeoCalls = enricher.Stats().Calls
		if err != nil {
			return mark(ErrCancelled, err)
		}
	}
	r.result.Records = survivors
	r.result.Geo = geo

	// scoring
	r.transition(ctx, model.RunStatusScoring)
	rep := quality.Score(quality.Input{
		Category:       r.req.Category,
		Records:        survivors,
		PreDedupCount:  len(clean),
		DuplicateCount: dups,
		Dropped:        r.stats.Dropped,
		Geo:            geo,
		FieldErrors:    norm.Tally().Counts(),
	})
	r.result.Report = &rep
	r.stats.Grade = rep.Grade
	r.stats.Score = rep.Score

	narrative := quality.Narrate(ctx, deps.Recommender, rep)
	markdown := quality.FormatMarkdown(rep, narrative, deps.Now())
	yamlReport, err := quality.MarshalYAML(rep)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal report")
	}
	if err := cancelled(ctx); err != nil {
		return err
	}

	// persisting
	r.transition(ctx, model.RunStatusPersisting)
	rows := survivors
	parquetPath, _, _ := r.p.Paths(r.req.Category)
	if r.req.Mode == model.ModeIncremental {
		prior, err := snapshot.Read(ctx, parquetPath)
		if err != nil {
			return mark(ErrPersistence, err)
		}
		// A new code can still match a prior row by name, brand and
		// location, so the merged snapshot is deduplicated again.
		var merged int
		rows, merged = dedup.Deduplicate(snapshot.Merge(prior, survivors))
		r.stats.MergedDuplicates = merged
	}

	files, n, err := r.p.commit(ctx, r.run.ID, r.req.Category, commitSet{
		rows:     rows,
		markdown: []byte(markdown),
		yaml:     yamlReport,
		entries:  indexEntries(entries),
		replace:  r.req.Mode == model.ModeFull,
	})
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return mark(ErrPersistence, err)
	}
	r.stats.SnapshotRows = n
	r.result.Files = files

	if deps.Publisher != nil {
		if err := deps.Publisher.Publish(ctx, r.req.Category, files); err != nil {
			r.stats.PublishError = err.Error()
			r.log.Warn("pipeline: publish failed", zap.Error(err))
		} else {
			r.stats.Published = true
		}
	}
	return nil
}

// skip reports whether an incremental run can leave raw out.
func (r *runner) skip(ix model.Index, raw model.RawRecord, hash string) bool {
	code, ok := normalize.Identifier(raw.ID())
	if !ok || !ix.Known(code) {
		return false
	}
	if r.req.DetectChanges {
		return ix.Unchanged(code, hash)
	}
	return true
}

// ContentHash is the hex SHA-256 of the record's canonical JSON encoding.
// Map keys are encoded in sorted order, so equal records hash equally.
func ContentHash(raw model.RawRecord) (string, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: encode record")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
