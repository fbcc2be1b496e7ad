package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/batch"
	"github.com/rankwatch/rankwatch/internal/rank"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type fakeStore struct {
	project    rank.Project
	projectErr error
	startErr   error
	progress   rank.BatchProgress
}

func (s *fakeStore) GetProject(ctx context.Context, projectID string) (rank.Project, error) {
	if s.projectErr != nil {
		return rank.Project{}, s.projectErr
	}
	return s.project, nil
}

func (s *fakeStore) GetRanking(ctx context.Context, projectID, keyword string) (rank.Ranking, error) {
	return rank.Ranking{}, rank.ErrNotFound
}

func (s *fakeStore) StartRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, total int, now time.Time) error {
	return s.startErr
}

func (s *fakeStore) ReplaceRanking(ctx context.Context, projectID string, entry rank.Ranking) error {
	return nil
}

func (s *fakeStore) RecordResult(ctx context.Context, projectID string, batchID uuid.UUID, keyword, errText string, now time.Time) (int, int, error) {
	return 0, 0, nil
}

func (s *fakeStore) FinishRankCheck(ctx context.Context, projectID string, batchID uuid.UUID, now time.Time) (bool, rank.BatchStatus, error) {
	return false, "", nil
}

func (s *fakeStore) RankCheckProgress(ctx context.Context, projectID string) (rank.BatchProgress, error) {
	if s.projectErr != nil {
		return rank.BatchProgress{}, s.projectErr
	}
	return s.progress, nil
}

type fakeQueue struct {
	jobs []rank.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job rank.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (rank.Delivery, error) {
	<-ctx.Done()
	return rank.Delivery{}, ctx.Err()
}

func (q *fakeQueue) Ack(context.Context, rank.Delivery) error { return nil }

func (q *fakeQueue) Nack(context.Context, rank.Delivery, error) (bool, error) {
	return false, nil
}

func newTestServer(store *fakeStore, queue *fakeQueue) *Server {
	submitter := batch.NewSubmitter(store, queue, fixedClock{}, zap.NewNop())
	return NewServer(submitter, nil, Config{}, zap.NewNop())
}

func testProject() rank.Project {
	return rank.Project{
		ID:         "project-1",
		WebsiteURL: "https://www.example.com",
		Country:    "United States",
		Keywords:   []string{"best coffee", "coffee beans"},
	}
}

func TestSubmitRankCheckAccepted(t *testing.T) {
	t.Parallel()

	store := &fakeStore{project: testProject()}
	queue := &fakeQueue{}
	srv := newTestServer(store, queue)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/project-1/rank-check",
		strings.NewReader(`{"keywords":["best coffee","coffee beans"]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		Accepted int    `json:"accepted"`
		BatchID  string `json:"batch_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Accepted)
	require.NotEmpty(t, body.BatchID)
	require.Len(t, queue.jobs, 2)
}

func TestSubmitRankCheckEmptyKeywordsRejected(t *testing.T) {
	t.Parallel()

	store := &fakeStore{project: testProject()}
	queue := &fakeQueue{}
	srv := newTestServer(store, queue)

	for _, body := range []string{"", `{}`, `{"keywords":[]}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/projects/project-1/rank-check",
			strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	require.Empty(t, queue.jobs)
}

func TestSubmitRankCheckAlreadyRunning(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		project:  testProject(),
		startErr: rank.ErrAlreadyRunning,
		progress: rank.BatchProgress{Status: rank.BatchRunning, Done: 1, Total: 2},
	}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/project-1/rank-check",
		strings.NewReader(`{"keywords":["best coffee"]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var progress rank.BatchProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.Equal(t, rank.BatchRunning, progress.Status)
	require.Equal(t, 1, progress.Done)
}

func TestSubmitRankCheckUnknownProject(t *testing.T) {
	t.Parallel()

	store := &fakeStore{projectErr: rank.ErrNotFound}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/ghost/rank-check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRankCheckUntrackedKeyword(t *testing.T) {
	t.Parallel()

	store := &fakeStore{project: testProject()}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/project-1/rank-check",
		strings.NewReader(`{"keywords":["not tracked"]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRankCheckInvalidJSON(t *testing.T) {
	t.Parallel()

	store := &fakeStore{project: testProject()}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/project-1/rank-check",
		strings.NewReader(`{"keywords":`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRankCheckProgress(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		project: testProject(),
		progress: rank.BatchProgress{
			Status: rank.BatchFailed,
			Done:   2,
			Total:  2,
			Error:  "1 of 2 keywords failed",
		},
	}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/projects/project-1/rank-check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var progress rank.BatchProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.Equal(t, rank.BatchFailed, progress.Status)
	require.Equal(t, "1 of 2 keywords failed", progress.Error)
}

func TestGetRankCheckUnknownProject(t *testing.T) {
	t.Parallel()

	store := &fakeStore{projectErr: rank.ErrNotFound}
	srv := newTestServer(store, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/projects/ghost/rank-check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{project: testProject()}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestRequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{project: testProject()}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
