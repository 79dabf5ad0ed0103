package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/pkg/anthropic"
)

// Recommender writes short improvement advice for a scored dataset. It only
// ever sees report fields, never records.
type Recommender interface {
	Recommend(ctx context.Context, rep model.QualityReport) (string, error)
}

const recommendSystemPrompt = "You are a data quality expert. Give 3 short, concrete recommendations as a numbered list."

// ClaudeRecommender asks Claude for recommendations.
type ClaudeRecommender struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeRecommender creates a Recommender backed by client.
func NewClaudeRecommender(client anthropic.Client, model string, maxTokens int64) *ClaudeRecommender {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &ClaudeRecommender{client: client, model: model, maxTokens: maxTokens}
}

// Recommend implements Recommender.
func (c *ClaudeRecommender) Recommend(ctx context.Context, rep model.QualityReport) (string, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    recommendSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: Prompt(rep)}},
	})
	if err != nil {
		return "", eris.Wrap(err, "quality: recommend")
	}
	resp.Usage.Log(c.model, "recommendations")
	return strings.TrimSpace(resp.Text()), nil
}

// Prompt renders the statistics sent to the recommender.
func Prompt(rep model.QualityReport) string {
	var b strings.Builder
	b.WriteString("Quality analysis of a product dataset:\n")
	fmt.Fprintf(&b, "- Records: %d\n", rep.TotalRecords)
	fmt.Fprintf(&b, "- Completeness: %.1f%%\n", rep.CompletenessPct)
	fmt.Fprintf(&b, "- Duplicates: %.1f%%\n", rep.DuplicatePct)
	fmt.Fprintf(&b, "- Geocoding success: %.1f%%\n", rep.GeocodingSuccessPct)
	fmt.Fprintf(&b, "- Grade: %s\n\n", rep.Grade)
	b.WriteString("Missing values per column:\n")
	for _, fc := range rep.MissingByField {
		fmt.Fprintf(&b, "- %s: %d\n", fc.Field, fc.Count)
	}
	b.WriteString("\nWhat are your priority recommendations?")
	return b.String()
}

// Narrate returns recommendations from r, or "" when r is nil or fails.
// A failed narrative never fails the run.
func Narrate(ctx context.Context, r Recommender, rep model.QualityReport) string {
	if r == nil {
		return ""
	}
	text, err := r.Recommend(ctx, rep)
	if err != nil {
		zap.L().Warn("quality: recommendations unavailable", zap.Error(err))
		return ""
	}
	return text
}
