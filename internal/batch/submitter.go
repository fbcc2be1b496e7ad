// Package batch validates rank-check requests and turns them into queued jobs.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/rank"
)

// Submission reports an accepted batch.
type Submission struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Accepted int       `json:"accepted"`
}

// Enqueuer is the job-submission side of the queue. The dispatcher satisfies
// it, so submissions route through the same front door as worker fan-out.
type Enqueuer interface {
	Enqueue(ctx context.Context, job rank.Job) error
}

// Submitter starts rank-check batches: it validates the requested keywords,
// claims the project's batch slot, and enqueues one job per keyword.
type Submitter struct {
	store  rank.ProjectStore
	queue  Enqueuer
	clock  rank.Clock
	logger *zap.Logger
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(store rank.ProjectStore, queue Enqueuer, clock rank.Clock, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		store:  store,
		queue:  queue,
		clock:  clock,
		logger: logger,
	}
}

// Submit starts a batch for the given keywords. It returns rank.ErrNotFound
// for an unknown project, rank.ErrInvalidRequest for an empty or non-tracked
// keyword set, and rank.ErrAlreadyRunning when a batch is already in flight.
func (s *Submitter) Submit(ctx context.Context, projectID string, keywords []string) (Submission, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Submission{}, err
	}

	selected, err := selectKeywords(project, keywords)
	if err != nil {
		return Submission{}, err
	}

	batchID := uuid.New()
	if err := s.store.StartRankCheck(ctx, projectID, batchID, len(selected), s.clock.Now()); err != nil {
		return Submission{}, err
	}

	accepted := 0
	for _, keyword := range selected {
		job := rank.Job{ProjectID: projectID, Keyword: keyword, BatchID: batchID}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// The batch slot is already claimed; record the keyword as failed
			// so the batch still terminates without it.
			s.logger.Error("enqueue failed",
				zap.String("project_id", projectID),
				zap.String("keyword", keyword),
				zap.Error(err),
			)
			if _, _, rerr := s.store.RecordResult(ctx, projectID, batchID, keyword,
				fmt.Sprintf("enqueue: %v", err), s.clock.Now()); rerr != nil {
				s.logger.Error("record enqueue failure", zap.String("keyword", keyword), zap.Error(rerr))
			}
			continue
		}
		accepted++
	}

	s.logger.Info("rank check submitted",
		zap.String("project_id", projectID),
		zap.String("batch_id", batchID.String()),
		zap.Int("accepted", accepted),
		zap.Int("total", len(selected)),
	)
	return Submission{BatchID: batchID, Accepted: accepted}, nil
}

// Progress reads the poll-status view for a project.
func (s *Submitter) Progress(ctx context.Context, projectID string) (rank.BatchProgress, error) {
	return s.store.RankCheckProgress(ctx, projectID)
}

// selectKeywords validates the requested keyword set against the project's
// tracked keywords: it must be a non-empty subset. Duplicates collapse so the
// batch total matches distinct work.
func selectKeywords(project rank.Project, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("no keywords selected: %w", rank.ErrInvalidRequest)
	}

	tracked := make(map[string]bool, len(project.Keywords))
	for _, k := range project.Keywords {
		tracked[k] = true
	}

	seen := make(map[string]bool, len(requested))
	selected := make([]string, 0, len(requested))
	for _, k := range requested {
		if !tracked[k] {
			return nil, fmt.Errorf("keyword %q is not tracked by the project: %w", k, rank.ErrInvalidRequest)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		selected = append(selected, k)
	}
	return selected, nil
}
