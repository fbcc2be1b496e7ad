// Package worker implements the rank-check execution loop: one keyword per
// job, searched against the provider and merged back into the project.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/rank"
)

// Config controls Worker behavior.
type Config struct {
	// RetryCooldown is the pause before the single re-query issued when a
	// lookup comes back empty. Zero disables the cooldown (used in tests).
	RetryCooldown time.Duration
	// PolitenessBase and PolitenessJitter shape the randomized pause between
	// consecutive jobs: base + [0, jitter). Zero base disables the pause.
	PolitenessBase   time.Duration
	PolitenessJitter time.Duration
}

// Worker consumes rank-check jobs and executes the lookup pipeline.
type Worker struct {
	queue  rank.Queue
	store  rank.ProjectStore
	search rank.SearchClient
	clock  rank.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(
	queue rank.Queue,
	store rank.ProjectStore,
	search rank.SearchClient,
	clock rank.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		store:  store,
		search: search,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue deliveries until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("project_id", d.Job.ProjectID),
			zap.String("keyword", d.Job.Keyword),
			zap.Int("attempt", d.Attempt),
		)

		metrics.IncActiveWorkers()
		w.processJob(ctx, d)
		metrics.DecActiveWorkers()

		w.politenessPause(ctx)
	}
}

func (w *Worker) processJob(ctx context.Context, d rank.Delivery) {
	job := d.Job

	project, err := w.store.GetProject(ctx, job.ProjectID)
	if errors.Is(err, rank.ErrNotFound) {
		// The project was deleted mid-batch. The job can never succeed, so
		// drop it instead of letting it burn through retries.
		w.logger.Warn("dropping job for missing project",
			zap.String("project_id", job.ProjectID),
			zap.String("keyword", job.Keyword),
		)
		w.ack(ctx, d)
		metrics.ObserveJob(metrics.JobOutcomeDropped)
		return
	}
	if err != nil {
		w.fail(ctx, d, fmt.Errorf("load project: %w", err))
		return
	}

	domain := rank.NormalizeDomain(project.WebsiteURL)
	if domain == "" {
		// No retry can fix a malformed stored URL; record the keyword as a
		// failed completion so the batch still terminates.
		w.logger.Warn("project website url is not a valid host",
			zap.String("project_id", job.ProjectID),
			zap.String("website_url", project.WebsiteURL),
		)
		w.complete(ctx, d, fmt.Sprintf("invalid website url %q", project.WebsiteURL))
		w.ack(ctx, d)
		metrics.ObserveJob(metrics.JobOutcomeDropped)
		return
	}
	locale := rank.CountryLocale(project.Country)

	var previous *int
	current, err := w.store.GetRanking(ctx, job.ProjectID, job.Keyword)
	switch {
	case err == nil:
		previous = current.Ranking
	case errors.Is(err, rank.ErrNotFound):
		// First check for this keyword.
	default:
		w.fail(ctx, d, fmt.Errorf("load previous ranking: %w", err))
		return
	}

	result, err := w.lookup(ctx, job.Keyword, domain, locale)
	if err != nil {
		w.fail(ctx, d, fmt.Errorf("search %q: %w", job.Keyword, err))
		return
	}

	entry := rank.Ranking{
		Keyword:         job.Keyword,
		Ranking:         result.Ranking,
		PreviousRanking: previous,
		RankingURL:      result.RankingURL,
		SearchEngine:    "google." + locale,
		CheckedAt:       w.clock.Now(),
	}
	if err := w.store.ReplaceRanking(ctx, job.ProjectID, entry); err != nil {
		w.fail(ctx, d, fmt.Errorf("merge ranking: %w", err))
		return
	}

	w.complete(ctx, d, "")
	w.ack(ctx, d)
	metrics.ObserveJob(metrics.JobOutcomeCompleted)

	w.logger.Info("keyword checked",
		zap.String("project_id", job.ProjectID),
		zap.String("keyword", job.Keyword),
		zap.Intp("ranking", entry.Ranking),
		zap.Intp("previous_ranking", entry.PreviousRanking),
	)
}

// lookup queries the provider, re-querying once after a cooldown when the
// domain did not appear. Empty results are often transient on the provider
// side; a second opinion avoids recording a spurious drop-out. An error on
// either query fails the lookup so the queue's retry policy governs
// redelivery — an unconfirmed empty result is never merged.
func (w *Worker) lookup(ctx context.Context, keyword, domain, locale string) (rank.SearchResult, error) {
	result, err := w.search.Search(ctx, keyword, domain, locale)
	if err != nil {
		return rank.SearchResult{}, err
	}
	if result.Ranking != nil {
		return result, nil
	}

	if err := sleepCtx(ctx, w.cfg.RetryCooldown); err != nil {
		return rank.SearchResult{}, fmt.Errorf("empty-result cooldown: %w", err)
	}
	retried, err := w.search.Search(ctx, keyword, domain, locale)
	if err != nil {
		return rank.SearchResult{}, fmt.Errorf("confirm empty result: %w", err)
	}
	return retried, nil
}

// fail routes a processing error through the queue's retry policy. When no
// attempts remain the keyword is recorded as a failed completion so the batch
// can still finish.
func (w *Worker) fail(ctx context.Context, d rank.Delivery, cause error) {
	w.logger.Error("job failed",
		zap.String("project_id", d.Job.ProjectID),
		zap.String("keyword", d.Job.Keyword),
		zap.Int("attempt", d.Attempt),
		zap.Error(cause),
	)
	requeued, err := w.queue.Nack(ctx, d, cause)
	if err != nil {
		w.logger.Error("nack failed", zap.String("keyword", d.Job.Keyword), zap.Error(err))
		return
	}
	if requeued {
		metrics.ObserveJob(metrics.JobOutcomeRetried)
		return
	}
	w.complete(ctx, d, cause.Error())
	metrics.ObserveJob(metrics.JobOutcomeExhausted)
}

// complete records the keyword's terminal result for its batch and finalizes
// the batch when this was the last outstanding keyword.
func (w *Worker) complete(ctx context.Context, d rank.Delivery, errText string) {
	job := d.Job
	done, total, err := w.store.RecordResult(ctx, job.ProjectID, job.BatchID, job.Keyword, errText, w.clock.Now())
	if errors.Is(err, rank.ErrNotFound) {
		// The batch was superseded or the project is gone; nothing to count.
		return
	}
	if err != nil {
		w.logger.Error("record result failed",
			zap.String("project_id", job.ProjectID),
			zap.String("keyword", job.Keyword),
			zap.Error(err),
		)
		return
	}
	if done < total {
		return
	}

	finished, status, err := w.store.FinishRankCheck(ctx, job.ProjectID, job.BatchID, w.clock.Now())
	if err != nil {
		w.logger.Error("finish rank check failed",
			zap.String("project_id", job.ProjectID), zap.Error(err))
		return
	}
	if finished {
		w.logger.Info("rank check finished",
			zap.String("project_id", job.ProjectID),
			zap.String("batch_id", job.BatchID.String()),
			zap.String("status", string(status)),
			zap.Int("total", total),
		)
	}
}

func (w *Worker) ack(ctx context.Context, d rank.Delivery) {
	if err := w.queue.Ack(ctx, d); err != nil {
		w.logger.Error("ack failed", zap.String("keyword", d.Job.Keyword), zap.Error(err))
	}
}

// politenessPause spaces consecutive provider lookups with a randomized delay.
func (w *Worker) politenessPause(ctx context.Context) {
	if w.cfg.PolitenessBase <= 0 {
		return
	}
	pause := w.cfg.PolitenessBase
	if w.cfg.PolitenessJitter > 0 {
		pause += time.Duration(rand.Int63n(int64(w.cfg.PolitenessJitter)))
	}
	_ = sleepCtx(ctx, pause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
