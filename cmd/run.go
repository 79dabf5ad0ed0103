package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/config"
	"github.com/sells-group/foodgeo/internal/enrich"
	"github.com/sells-group/foodgeo/internal/fetcher"
	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/pipeline"
	"github.com/sells-group/foodgeo/internal/publish"
	"github.com/sells-group/foodgeo/internal/quality"
	"github.com/sells-group/foodgeo/internal/store"
	anthropicpkg "github.com/sells-group/foodgeo/pkg/anthropic"
	"github.com/sells-group/foodgeo/pkg/geocode"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		req := pipeline.RequestFromConfig(cfg.Pipeline)
		if err := applyRunFlags(cmd, &req); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deps, err := buildDeps(ctx, cfg, st)
		if err != nil {
			return err
		}

		p := pipeline.New(deps, cfg.Pipeline)
		res, err := p.Run(ctx, req)
		if res != nil && res.Run != nil {
			if werr := writeRunResult(os.Stdout, res); werr != nil {
				zap.L().Warn("failed to write run result", zap.Error(werr))
			}
		}
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}
		return nil
	},
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.String("category", "", "catalog category to process (defaults to pipeline.category)")
	f.Int("max-items", 0, "maximum number of records to fetch (defaults to pipeline.max_items)")
	f.Bool("incremental", false, "skip records already in the index")
	f.Bool("detect-changes", false, "in incremental mode, reprocess known records whose content changed")
	f.Bool("skip-enrichment", false, "do not geocode store locations")
}

// signalContext cancels on SIGINT or SIGTERM so an interrupted run finishes
// its in-flight lookups, skips the commit and is recorded as cancelled.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// applyRunFlags overrides req with the flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, req *pipeline.Request) error {
	f := cmd.Flags()
	if f.Changed("category") {
		req.Category, _ = f.GetString("category")
	}
	if f.Changed("max-items") {
		req.MaxItems, _ = f.GetInt("max-items")
	}
	if f.Changed("incremental") {
		inc, _ := f.GetBool("incremental")
		req.Mode = model.ModeFull
		if inc {
			req.Mode = model.ModeIncremental
		}
	}
	if f.Changed("detect-changes") {
		req.DetectChanges, _ = f.GetBool("detect-changes")
	}
	if f.Changed("skip-enrichment") {
		req.SkipEnrichment, _ = f.GetBool("skip-enrichment")
	}

	if req.Category == "" {
		return eris.New("a category is required (--category or pipeline.category)")
	}
	if req.MaxItems < 0 {
		return eris.Errorf("max-items must be >= 0, got %d", req.MaxItems)
	}
	return nil
}

// buildDeps wires the pipeline collaborators from configuration. Optional
// collaborators are left nil when their settings are empty.
func buildDeps(ctx context.Context, c *config.Config, st store.Store) (pipeline.Deps, error) {
	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Source.UserAgent,
		Timeout:    c.Source.Timeout(),
		MaxRetries: c.Source.MaxRetries,
		RatePerSec: c.Source.RatePerSec,
	})

	geoOpts := []geocode.Option{
		geocode.WithAdresseURL(c.Geocode.AdresseURL),
		geocode.WithMinScore(c.Geocode.MinScore),
	}
	if c.Geocode.GoogleKey != "" {
		geoOpts = append(geoOpts, geocode.WithGoogleAPIKey(c.Geocode.GoogleKey))
	}

	deps := pipeline.Deps{
		Source:   fetcher.NewOpenFoodFacts(hf, c.Source.BaseURL, c.Source.PageSize),
		Store:    st,
		Resolver: geocode.NewClient(geoOpts...),
		EnrichOptions: []enrich.Option{
			enrich.WithConcurrency(c.Geocode.Concurrency),
			enrich.WithMinInterval(c.Geocode.MinInterval()),
			enrich.WithCallTimeout(c.Geocode.CallTimeout()),
			enrich.WithRetry(c.Geocode.RetryConfig()),
			enrich.WithCircuitBreaker(c.Geocode.CircuitConfig()),
			enrich.WithH3Resolution(c.Geocode.H3Resolution),
			enrich.WithProgress(true),
		},
	}

	if c.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		deps.Recommender = quality.NewClaudeRecommender(client, c.Anthropic.Model, c.Anthropic.MaxTokens)
	}

	if c.Publish.Bucket != "" {
		pub, err := publish.NewS3(ctx, c.Publish.Bucket, c.Publish.Region, c.Publish.Prefix)
		if err != nil {
			return pipeline.Deps{}, eris.Wrap(err, "init publisher")
		}
		deps.Publisher = pub
	}
	return deps, nil
}

// runOutput is what `run` prints: the recorded run plus the report and the
// committed files.
type runOutput struct {
	Run    *model.Run           `json:"run"`
	Report *model.QualityReport `json:"report,omitempty"`
	Files  []string             `json:"files,omitempty"`
}

func writeRunResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runOutput{Run: res.Run, Report: res.Report, Files: res.Files})
}
