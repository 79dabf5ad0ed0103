// Package store persists the incremental ingestion index and the run log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/foodgeo/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Category string          `json:"category,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store is the persistence interface used by the pipeline.
//
// The index is only ever changed through an IndexTx, so a run that fails
// before committing leaves it exactly as it was.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Index
	LoadIndex(ctx context.Context, category string) (model.Index, error)
	BeginIndex(ctx context.Context, category string) (IndexTx, error)

	// Runs
	CreateRun(ctx context.Context, category string, mode model.RunMode) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
}

// IndexTx stages index changes for one category. Nothing is visible to
// LoadIndex until Commit succeeds. Rollback after Commit is a no-op.
type IndexTx interface {
	// Reset removes every entry of the category, so the entries upserted
	// after it become the whole index.
	Reset(ctx context.Context) error
	Upsert(ctx context.Context, entries []model.IndexEntry) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
