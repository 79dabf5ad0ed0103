package model

import "time"

// RunStatus is the orchestrator state recorded for a run.
type RunStatus string

const (
	RunStatusFetching      RunStatus = "fetching"
	RunStatusNormalizing   RunStatus = "normalizing"
	RunStatusDeduplicating RunStatus = "deduplicating"
	RunStatusEnriching     RunStatus = "enriching"
	RunStatusScoring       RunStatus = "scoring"
	RunStatusPersisting    RunStatus = "persisting"
	RunStatusDone          RunStatus = "done"
	RunStatusFailed        RunStatus = "failed"
	RunStatusCancelled     RunStatus = "cancelled"
)

// Terminal reports whether no further transition can follow s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed || s == RunStatusCancelled
}

// RunMode selects how a run treats previously ingested records.
type RunMode string

const (
	ModeFull        RunMode = "full"
	ModeIncremental RunMode = "incremental"
)

// Run is one pipeline execution as recorded in the run log.
type Run struct {
	ID        string     `json:"id"`
	Category  string     `json:"category"`
	Mode      RunMode    `json:"mode"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the counters of a finished run.
type RunResult struct {
	Fetched          int     `json:"fetched"`
	Skipped          int     `json:"skipped"`
	Dropped          int     `json:"dropped"`
	Normalized       int     `json:"normalized"`
	Duplicates       int     `json:"duplicates"`
	Survivors        int     `json:"survivors"`
	MergedDuplicates int     `json:"merged_duplicates,omitempty"` // dropped when merging into the prior snapshot
	SnapshotRows     int     `json:"snapshot_rows"`
	GeoCalls         int     `json:"geo_calls"`
	UpToDate         bool    `json:"up_to_date"`
	Grade            Grade   `json:"grade,omitempty"`
	Score            float64 `json:"score"`
	DurationMs       int64   `json:"duration_ms"`
	Published        bool    `json:"published"`
	PublishError     string  `json:"publish_error,omitempty"`
}

// IndexEntry is one identifier recorded as ingested.
type IndexEntry struct {
	Code        string
	ContentHash string
}

// Index maps ingested identifiers to the content hash of their raw record.
type Index map[string]string

// Known reports whether code has been ingested.
func (ix Index) Known(code string) bool {
	_, ok := ix[code]
	return ok
}

// Unchanged reports whether code was ingested with the same content hash.
func (ix Index) Unchanged(code, hash string) bool {
	h, ok := ix[code]
	return ok && h == hash
}
