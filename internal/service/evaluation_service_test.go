package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/models"
	"github.com/noah-isme/prepmint-api/internal/repository"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/jobs"
	"github.com/noah-isme/prepmint-api/pkg/storage"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x42}, 64)...)

type mockJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*models.EvaluationJob
	createErr error
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[string]*models.EvaluationJob)}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.EvaluationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*models.EvaluationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (m *mockJobRepo) UpdateStatus(ctx context.Context, id string, params repository.UpdateEvaluationJobParams) (*models.EvaluationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return nil, sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		p := *params.Progress
		job.Progress = &p
	}
	if params.Result != nil {
		r := *params.Result
		job.Result = &r
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	clone := *job
	return &clone, nil
}

func (m *mockJobRepo) List(ctx context.Context, filter models.EvaluationJobFilter) ([]models.EvaluationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EvaluationJob, 0)
	for _, job := range m.jobs {
		if filter.Status == "" || job.Status == filter.Status {
			out = append(out, *job)
		}
	}
	return out, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) TryEnqueue(job jobs.Job) error {
	return q.Enqueue(job)
}

type evaluationFixture struct {
	svc    *EvaluationService
	repo   *mockJobRepo
	store  *storage.LocalStorage
	queue  *recordingQueue
	signer *storage.SignedURLSigner
}

func newEvaluationFixture(t *testing.T, dispatchURL string) evaluationFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newMockJobRepo()
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	queue := &recordingQueue{}
	svc := NewEvaluationService(repo, store, signer, nil, NewMetricsService(), zap.NewNop(), EvaluationConfig{
		DispatchURL:    dispatchURL,
		FilePathPrefix: "/api/v1/evaluations/files/",
	})
	svc.AttachQueue(queue)
	return evaluationFixture{svc: svc, repo: repo, store: store, queue: queue, signer: signer}
}

var student = &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}

func pngUpload() Upload {
	return Upload{TestID: "test-1", FileName: "sheet.png", Size: int64(len(pngBytes)), MimeType: "image/png", Content: bytes.NewReader(pngBytes)}
}

func TestEvaluationServiceSubmitStoresAndQueues(t *testing.T) {
	f := newEvaluationFixture(t, "http://grader.local/jobs")

	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)
	assert.Equal(t, evaluation.JobQueued, job.Status)
	assert.Equal(t, "user-1", job.OwnerUserID)
	assert.Equal(t, "test-1", *job.TestID)
	assert.EqualValues(t, len(pngBytes), job.SizeBytes)
	assert.Contains(t, job.SourceFileRef, ".png")

	stored, err := f.store.Open(job.SourceFileRef)
	require.NoError(t, err)
	data, err := io.ReadAll(stored)
	require.NoError(t, err)
	require.NoError(t, stored.Close())
	assert.Equal(t, pngBytes, data)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, job.ID, f.queue.jobs[0].Payload)
	assert.Equal(t, DispatchJobType, f.queue.jobs[0].Type)
}

func TestEvaluationServiceSubmitRejections(t *testing.T) {
	f := newEvaluationFixture(t, "")

	upload := pngUpload()
	upload.MimeType = "text/plain"
	upload.FileName = "notes.txt"
	_, err := f.svc.Submit(context.Background(), student, upload)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	upload = pngUpload()
	upload.Content = bytes.NewReader([]byte("%PDF-1.4 pretending to be a png"))
	_, err = f.svc.Submit(context.Background(), student, upload)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "does not look like image/png")

	upload = pngUpload()
	upload.UserID = "someone-else"
	_, err = f.svc.Submit(context.Background(), student, upload)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	assert.Empty(t, f.repo.jobs)
	assert.Empty(t, f.queue.jobs)
}

func TestEvaluationServiceSubmitOversizedStream(t *testing.T) {
	f := newEvaluationFixture(t, "")
	f.svc.config.Rules.MaxSize = 32

	upload := pngUpload()
	upload.Size = 16
	_, err := f.svc.Submit(context.Background(), student, upload)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "larger than")
	assert.Empty(t, f.repo.jobs)
}

func TestEvaluationServiceSubmitRemovesFileWhenJobCreateFails(t *testing.T) {
	f := newEvaluationFixture(t, "")
	f.repo.createErr = sql.ErrConnDone

	_, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestEvaluationServiceGetVisibility(t *testing.T) {
	f := newEvaluationFixture(t, "")
	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), student, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), &models.JWTClaims{UserID: "user-2", Role: models.RoleStudent}, job.ID)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Get(context.Background(), &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher}, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), student, "missing")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestEvaluationServiceReportLifecycle(t *testing.T) {
	f := newEvaluationFixture(t, "")
	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)

	progress := 30
	updated, err := f.svc.Report(context.Background(), job.ID, dto.EvaluationReportRequest{Status: evaluation.JobProcessing, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, evaluation.JobProcessing, updated.Status)

	_, err = f.svc.Report(context.Background(), job.ID, dto.EvaluationReportRequest{Status: evaluation.JobDone})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	updated, err = f.svc.Report(context.Background(), job.ID, dto.EvaluationReportRequest{
		Status: evaluation.JobDone,
		Result: &evaluation.Result{Score: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, *updated.Progress)
	assert.True(t, updated.StatusView().Result.Perfect())

	_, err = f.svc.Report(context.Background(), job.ID, dto.EvaluationReportRequest{Status: evaluation.JobFailed})
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = f.svc.Report(context.Background(), "missing", dto.EvaluationReportRequest{Status: evaluation.JobFailed})
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Report(context.Background(), job.ID, dto.EvaluationReportRequest{Status: "paused"})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEvaluationServiceDispatchPostsToGrader(t *testing.T) {
	var received dto.EvaluationDispatch
	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer grader.Close()

	f := newEvaluationFixture(t, grader.URL)
	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)

	require.NoError(t, f.svc.Dispatch(context.Background(), f.queue.jobs[0]))
	assert.Equal(t, job.ID, received.JobID)
	assert.Equal(t, "user-1", received.UserID)
	assert.Contains(t, received.FileURL, "/api/v1/evaluations/files/")

	stored, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.JobProcessing, stored.Status)

	file, opened, err := f.svc.OpenFile(context.Background(), received.FileURL[len("/api/v1/evaluations/files/"):])
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, job.ID, opened.ID)

	// Already processing: a duplicate delivery is a no-op.
	require.NoError(t, f.svc.Dispatch(context.Background(), f.queue.jobs[0]))
}

func TestEvaluationServiceDispatchFailureAndGiveUp(t *testing.T) {
	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer grader.Close()

	f := newEvaluationFixture(t, grader.URL)
	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)

	err = f.svc.Dispatch(context.Background(), f.queue.jobs[0])
	require.Error(t, err)

	f.svc.GiveUp(context.Background(), f.queue.jobs[0], err)
	stored, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.JobFailed, stored.Status)
	assert.Equal(t, "evaluation could not be started", *stored.ErrorMessage)
}

func TestEvaluationServiceResumeQueued(t *testing.T) {
	f := newEvaluationFixture(t, "http://grader.local/jobs")
	for i := 0; i < 3; i++ {
		_, err := f.svc.Submit(context.Background(), student, pngUpload())
		require.NoError(t, err)
	}
	f.queue.jobs = nil

	resumed, err := f.svc.ResumeQueued(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, resumed)
	assert.Len(t, f.queue.jobs, 3)
}

func TestEvaluationServiceOpenFileRejectsForeignTokens(t *testing.T) {
	f := newEvaluationFixture(t, "")
	job, err := f.svc.Submit(context.Background(), student, pngUpload())
	require.NoError(t, err)

	token, _, err := f.signer.Sign(job.ID, "evaluations/other.png")
	require.NoError(t, err)
	_, _, err = f.svc.OpenFile(context.Background(), token)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = f.svc.OpenFile(context.Background(), "not-a-token")
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
