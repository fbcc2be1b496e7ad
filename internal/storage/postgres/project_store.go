// Package postgres provides the Postgres-backed project store: ranking merge
// and batch progress as fine-grained atomic statements. Nothing here replaces
// whole rows for pipeline-touched fields; concurrent jobs for sibling
// keywords of the same project must not race on each other's updates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankwatch/rankwatch/internal/rank"
)

// ProjectStoreConfig controls the Postgres connection pool.
type ProjectStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ProjectStore implements rank.ProjectStore on a pgx connection pool.
// Schema lives in migrations/0001_init.sql.
type ProjectStore struct {
	pool dbPool
}

// NewProjectStore connects a pool using the provided config.
func NewProjectStore(ctx context.Context, cfg ProjectStoreConfig) (*ProjectStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProjectStore{pool: pool}, nil
}

// NewProjectStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewProjectStoreWithPool(pool dbPool) (*ProjectStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProjectStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProjectStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetProject loads one project or returns rank.ErrNotFound.
func (s *ProjectStore) GetProject(ctx context.Context, projectID string) (rank.Project, error) {
	const query = `
SELECT id, website_name, website_url, country, city, keywords,
       rank_check_status, rank_check_batch_id, rank_check_total, rank_check_done,
       rank_check_started_at, rank_check_updated_at, rank_check_error, created_at
FROM projects
WHERE id = $1`

	var (
		p         rank.Project
		city      *string
		batchID   *uuid.UUID
		startedAt *time.Time
		updatedAt *time.Time
		errText   *string
	)
	err := s.pool.QueryRow(ctx, query, projectID).Scan(
		&p.ID,
		&p.WebsiteName,
		&p.WebsiteURL,
		&p.Country,
		&city,
		&p.Keywords,
		&p.RankCheck.Status,
		&batchID,
		&p.RankCheck.Total,
		&p.RankCheck.Done,
		&startedAt,
		&updatedAt,
		&errText,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rank.Project{}, fmt.Errorf("project %s: %w", projectID, rank.ErrNotFound)
	}
	if err != nil {
		return rank.Project{}, fmt.Errorf("load project: %w", err)
	}
	if city != nil {
		p.City = *city
	}
	if batchID != nil {
		p.RankCheck.BatchID = *batchID
	}
	p.RankCheck.StartedAt = startedAt
	p.RankCheck.UpdatedAt = updatedAt
	if errText != nil {
		p.RankCheck.Error = *errText
	}
	return p, nil
}

// GetRanking loads the current entry for one keyword, or rank.ErrNotFound
// when the keyword has never been checked.
func (s *ProjectStore) GetRanking(ctx context.Context, projectID, keyword string) (rank.Ranking, error) {
	const query = `
SELECT keyword, ranking, previous_ranking, ranking_url, search_engine, checked_at
FROM rankings
WHERE project_id = $1 AND keyword = $2`

	var (
		entry rank.Ranking
		url   *string
	)
	err := s.pool.QueryRow(ctx, query, projectID, keyword).Scan(
		&entry.Keyword,
		&entry.Ranking,
		&entry.PreviousRanking,
		&url,
		&entry.SearchEngine,
		&entry.CheckedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rank.Ranking{}, fmt.Errorf("ranking for %q: %w", keyword, rank.ErrNotFound)
	}
	if err != nil {
		return rank.Ranking{}, fmt.Errorf("load ranking: %w", err)
	}
	if url != nil {
		entry.RankingURL = *url
	}
	return entry, nil
}

// StartRankCheck transitions the project to running as one compare-and-set.
// A concurrent submitter that loses the race gets rank.ErrAlreadyRunning.
func (s *ProjectStore) StartRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, total int, now time.Time) error {
	const query = `
UPDATE projects
SET rank_check_status = 'running',
    rank_check_batch_id = $2,
    rank_check_total = $3,
    rank_check_done = 0,
    rank_check_started_at = $4,
    rank_check_updated_at = $4,
    rank_check_error = NULL
WHERE id = $1 AND rank_check_status <> 'running'`

	tag, err := s.pool.Exec(ctx, query, projectID, batchID, total, now)
	if err != nil {
		return fmt.Errorf("start rank check: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// The CAS did not apply: either the project is gone or another
	// submitter won the idle→running transition.
	var status rank.BatchStatus
	err = s.pool.QueryRow(ctx, `SELECT rank_check_status FROM projects WHERE id = $1`, projectID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("project %s: %w", projectID, rank.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("start rank check status read: %w", err)
	}
	return rank.ErrAlreadyRunning
}

// ReplaceRanking swaps the keyword's entry for the given one inside a single
// transaction: remove-then-insert, never a whole-document write, so sibling
// keyword jobs of the same project can merge concurrently. Replaying the same
// entry is a no-op in effect, which keeps the merge idempotent under
// duplicate delivery.
func (s *ProjectStore) ReplaceRanking(ctx context.Context, projectID string, entry rank.Ranking) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ranking merge: %w", err)
	}
	defer func() {
		// Rollback is a no-op after commit.
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM rankings WHERE project_id = $1 AND keyword = $2`,
		projectID, entry.Keyword,
	); err != nil {
		return fmt.Errorf("remove prior ranking: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO rankings (project_id, keyword, ranking, previous_ranking, ranking_url, search_engine, checked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		projectID,
		entry.Keyword,
		entry.Ranking,
		entry.PreviousRanking,
		nullableString(entry.RankingURL),
		entry.SearchEngine,
		entry.CheckedAt,
	); err != nil {
		return fmt.Errorf("insert ranking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ranking merge: %w", err)
	}
	return nil
}

// RecordResult marks one keyword of a batch complete. The insert is keyed on
// (project, batch, keyword), so a redelivered job cannot advance progress
// twice; the done counter is recomputed as the count of recorded results
// rather than blindly incremented.
func (s *ProjectStore) RecordResult(ctx context.Context, projectID string, batchID uuid.UUID, keyword, errText string, now time.Time) (int, int, error) {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO rank_check_results (project_id, batch_id, keyword, ok, error_text, completed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (project_id, batch_id, keyword) DO NOTHING`,
		projectID, batchID, keyword, errText == "", nullableString(errText), now,
	); err != nil {
		return 0, 0, fmt.Errorf("record result: %w", err)
	}

	var done, total int
	err := s.pool.QueryRow(ctx, `
UPDATE projects
SET rank_check_done = sub.done,
    rank_check_updated_at = $3
FROM (
    SELECT count(*) AS done
    FROM rank_check_results
    WHERE project_id = $1 AND batch_id = $2
) AS sub
WHERE projects.id = $1 AND projects.rank_check_batch_id = $2
RETURNING projects.rank_check_done, projects.rank_check_total`,
		projectID, batchID, now,
	).Scan(&done, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("batch %s on project %s: %w", batchID, projectID, rank.ErrNotFound)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("advance progress: %w", err)
	}
	return done, total, nil
}

// FinishRankCheck finalizes the batch once every keyword is accounted for.
// The guard on status and counters makes exactly one caller observe
// finished=true; everyone else sees a no-op.
func (s *ProjectStore) FinishRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, now time.Time) (bool, rank.BatchStatus, error) {
	var status rank.BatchStatus
	err := s.pool.QueryRow(ctx, `
UPDATE projects
SET rank_check_status = CASE WHEN failed.n > 0 THEN 'failed' ELSE 'completed' END,
    rank_check_error = CASE WHEN failed.n > 0
        THEN failed.n::text || ' of ' || projects.rank_check_total::text || ' keywords failed'
        ELSE NULL END,
    rank_check_updated_at = $3
FROM (
    SELECT count(*) AS n
    FROM rank_check_results
    WHERE project_id = $1 AND batch_id = $2 AND NOT ok
) AS failed
WHERE projects.id = $1
  AND projects.rank_check_batch_id = $2
  AND projects.rank_check_status = 'running'
  AND projects.rank_check_done >= projects.rank_check_total
RETURNING projects.rank_check_status`,
		projectID, batchID, now,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("finish rank check: %w", err)
	}
	return true, status, nil
}

// RankCheckProgress reads the poll-status fields.
func (s *ProjectStore) RankCheckProgress(ctx context.Context, projectID string) (rank.BatchProgress, error) {
	var (
		progress rank.BatchProgress
		errText  *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT rank_check_status, rank_check_done, rank_check_total, rank_check_error
FROM projects
WHERE id = $1`,
		projectID,
	).Scan(&progress.Status, &progress.Done, &progress.Total, &errText)
	if errors.Is(err, pgx.ErrNoRows) {
		return rank.BatchProgress{}, fmt.Errorf("project %s: %w", projectID, rank.ErrNotFound)
	}
	if err != nil {
		return rank.BatchProgress{}, fmt.Errorf("load progress: %w", err)
	}
	if errText != nil {
		progress.Error = *errText
	}
	return progress, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
