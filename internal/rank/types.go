package rank

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of a project's rank-check batch.
type BatchStatus string

// Batch status values persisted in projects.rank_check_status.
const (
	BatchIdle      BatchStatus = "idle"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Project is the tracked website whose keywords are checked. The CRUD layer
// owns most of these fields; this pipeline only mutates the rankings array
// and the RankCheck progress fields, and only through ProjectStore.
type Project struct {
	ID          string      `json:"id"`
	WebsiteName string      `json:"website_name"`
	WebsiteURL  string      `json:"website_url"`
	Country     string      `json:"country"`
	City        string      `json:"city,omitempty"`
	Keywords    []string    `json:"keywords"`
	RankCheck   BatchState  `json:"rank_check"`
	CreatedAt   time.Time   `json:"created_at"`
}

// BatchState groups the rank-check progress fields of a project.
type BatchState struct {
	Status    BatchStatus `json:"rank_check_status"`
	BatchID   uuid.UUID   `json:"rank_check_batch_id,omitempty"`
	Total     int         `json:"rank_check_total"`
	Done      int         `json:"rank_check_done"`
	StartedAt *time.Time  `json:"rank_check_started_at,omitempty"`
	UpdatedAt *time.Time  `json:"rank_check_updated_at,omitempty"`
	Error     string      `json:"rank_check_error,omitempty"`
}

// Ranking is one keyword's position entry. A nil Ranking value means the
// domain was not found within the searched depth, which is distinct from the
// entry being absent (keyword never checked).
type Ranking struct {
	Keyword         string    `json:"keyword"`
	Ranking         *int      `json:"ranking"`
	PreviousRanking *int      `json:"previous_ranking"`
	RankingURL      string    `json:"ranking_url,omitempty"`
	SearchEngine    string    `json:"search_engine"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Job is the unit of work for a single (project, keyword) pair. BatchID ties
// the job to the batch that enqueued it so progress accounting stays
// idempotent under at-least-once delivery.
type Job struct {
	ProjectID string    `json:"project_id"`
	Keyword   string    `json:"keyword"`
	BatchID   uuid.UUID `json:"batch_id"`
}

// SearchResult is the outcome of one paginated provider lookup. Ranking is
// nil when the domain did not appear within the searched depth.
type SearchResult struct {
	Ranking    *int
	RankingURL string
}
