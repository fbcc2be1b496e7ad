package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/rank"
)

var (
	testBatchID = uuid.MustParse("c2a7b7de-3f11-4b0a-9b3e-8a2d6f1c5e90")
	testNow     = time.Unix(1700000000, 0).UTC()
)

func intPtr(v int) *int { return &v }

func TestStartRankCheckWinsCAS(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE projects").
		WithArgs("project-1", testBatchID, 5, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartRankCheck(context.Background(), "project-1", testBatchID, 5, testNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRankCheckLosesCASToRunningBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE projects").
		WithArgs("project-1", testBatchID, 5, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT rank_check_status FROM projects").
		WithArgs("project-1").
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_status"}).AddRow(rank.BatchRunning))

	err = store.StartRankCheck(context.Background(), "project-1", testBatchID, 5, testNow)
	require.ErrorIs(t, err, rank.ErrAlreadyRunning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRankCheckMissingProject(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE projects").
		WithArgs("ghost", testBatchID, 2, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT rank_check_status FROM projects").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_status"}))

	err = store.StartRankCheck(context.Background(), "ghost", testBatchID, 2, testNow)
	require.ErrorIs(t, err, rank.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRankingRemovesThenInserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	entry := rank.Ranking{
		Keyword:         "best coffee",
		Ranking:         intPtr(24),
		PreviousRanking: intPtr(31),
		RankingURL:      "https://blog.example.com/post",
		SearchEngine:    "google.us",
		CheckedAt:       testNow,
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM rankings").
		WithArgs("project-1", "best coffee").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO rankings").
		WithArgs(
			"project-1",
			"best coffee",
			entry.Ranking,
			entry.PreviousRanking,
			&entry.RankingURL,
			"google.us",
			testNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceRanking(context.Background(), "project-1", entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResultAdvancesProgress(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO rank_check_results").
		WithArgs("project-1", testBatchID, "best coffee", true, (*string)(nil), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE projects").
		WithArgs("project-1", testBatchID, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_done", "rank_check_total"}).AddRow(3, 5))

	done, total, err := store.RecordResult(context.Background(), "project-1", testBatchID, "best coffee", "", testNow)
	require.NoError(t, err)
	require.Equal(t, 3, done)
	require.Equal(t, 5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResultDuplicateDeliveryDoesNotOvercount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	// ON CONFLICT DO NOTHING: the duplicate insert affects zero rows and the
	// recomputed count is unchanged.
	mock.ExpectExec("INSERT INTO rank_check_results").
		WithArgs("project-1", testBatchID, "best coffee", true, (*string)(nil), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("UPDATE projects").
		WithArgs("project-1", testBatchID, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_done", "rank_check_total"}).AddRow(3, 5))

	done, total, err := store.RecordResult(context.Background(), "project-1", testBatchID, "best coffee", "", testNow)
	require.NoError(t, err)
	require.Equal(t, 3, done)
	require.Equal(t, 5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRankCheckNoOpWhileIncomplete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE projects").
		WithArgs("project-1", testBatchID, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_status"}))

	finished, _, err := store.FinishRankCheck(context.Background(), "project-1", testBatchID, testNow)
	require.NoError(t, err)
	require.False(t, finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRankCheckCompletes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE projects").
		WithArgs("project-1", testBatchID, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"rank_check_status"}).AddRow(rank.BatchCompleted))

	finished, status, err := store.FinishRankCheck(context.Background(), "project-1", testBatchID, testNow)
	require.NoError(t, err)
	require.True(t, finished)
	require.Equal(t, rank.BatchCompleted, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRankingNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT keyword, ranking").
		WithArgs("project-1", "never checked").
		WillReturnRows(pgxmock.NewRows([]string{
			"keyword", "ranking", "previous_ranking", "ranking_url", "search_engine", "checked_at",
		}))

	_, err = store.GetRanking(context.Background(), "project-1", "never checked")
	require.ErrorIs(t, err, rank.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankCheckProgress(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProjectStoreWithPool(mock)
	require.NoError(t, err)

	errText := "2 of 5 keywords failed"
	mock.ExpectQuery("SELECT rank_check_status, rank_check_done").
		WithArgs("project-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"rank_check_status", "rank_check_done", "rank_check_total", "rank_check_error",
		}).AddRow(rank.BatchFailed, 5, 5, &errText))

	progress, err := store.RankCheckProgress(context.Background(), "project-1")
	require.NoError(t, err)
	require.Equal(t, rank.BatchFailed, progress.Status)
	require.Equal(t, 5, progress.Done)
	require.Equal(t, 5, progress.Total)
	require.Equal(t, errText, progress.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}
