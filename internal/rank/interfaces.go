package rank

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Delivery wraps a dequeued job together with its queue-managed metadata.
// Attempt is 1-based. Payload is the exact serialized form carried by the
// queue; implementations use it to acknowledge the right in-flight entry.
type Delivery struct {
	Job     Job
	Attempt int
	Payload string
}

// Queue provides durable enqueue/dequeue semantics for rank-check jobs with
// at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or the context finishes.
	Dequeue(ctx context.Context) (Delivery, error)
	// Ack discards a successfully processed delivery.
	Ack(ctx context.Context, d Delivery) error
	// Nack reports a failed delivery. It schedules a retry and returns true
	// while attempts remain; once attempts are exhausted it retains the job
	// for inspection and returns false.
	Nack(ctx context.Context, d Delivery, cause error) (requeued bool, err error)
}

// BatchProgress is the poll-status view of a project's rank check.
type BatchProgress struct {
	Status BatchStatus `json:"rank_check_status"`
	Done   int         `json:"rank_check_done"`
	Total  int         `json:"rank_check_total"`
	Error  string      `json:"rank_check_error,omitempty"`
}

// ProjectStore persists projects and applies the pipeline's mutations as
// fine-grained atomic operations. Implementations must never replace whole
// rows for the fields this pipeline touches: sibling-keyword jobs of the same
// project run concurrently against the same record.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (Project, error)

	// GetRanking returns the current entry for one keyword, or ErrNotFound
	// when the keyword has never been checked.
	GetRanking(ctx context.Context, projectID, keyword string) (Ranking, error)

	// StartRankCheck transitions the project to running with fresh counters,
	// as a single compare-and-set: it fails with ErrAlreadyRunning when the
	// project is already running a batch, leaving the winner untouched.
	StartRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, total int, now time.Time) error

	// ReplaceRanking atomically swaps the keyword's entry for the given one
	// (remove-then-insert, idempotent under duplicate delivery).
	ReplaceRanking(ctx context.Context, projectID string, entry Ranking) error

	// RecordResult marks one keyword of a batch complete, exactly once per
	// (project, batch, keyword); errText is empty on success. It returns the
	// recomputed done count alongside the batch total.
	RecordResult(ctx context.Context, projectID string, batchID uuid.UUID, keyword, errText string, now time.Time) (done, total int, err error)

	// FinishRankCheck finalizes the batch once done has reached total: status
	// becomes completed when every keyword succeeded, failed otherwise. Only
	// one caller observes finished=true.
	FinishRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, now time.Time) (finished bool, status BatchStatus, err error)

	// RankCheckProgress reads the poll-status fields.
	RankCheckProgress(ctx context.Context, projectID string) (BatchProgress, error)
}

// SearchClient locates the tracked domain within ranked search results.
type SearchClient interface {
	// Search queries the provider for keyword in the given locale and returns
	// the 1-based rank of the first result whose host matches domain, or a
	// nil ranking when the domain is absent from the searched depth.
	Search(ctx context.Context, keyword, domain, locale string) (SearchResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
