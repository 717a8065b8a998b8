package service

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/models"
	"github.com/noah-isme/prepmint-api/internal/repository"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/jobs"
	"github.com/noah-isme/prepmint-api/pkg/storage"
)

// DispatchJobType labels queue jobs that hand an evaluation to the grader.
const DispatchJobType = "evaluation.dispatch"

type evaluationJobRepository interface {
	Create(ctx context.Context, job *models.EvaluationJob) error
	GetByID(ctx context.Context, id string) (*models.EvaluationJob, error)
	UpdateStatus(ctx context.Context, id string, params repository.UpdateEvaluationJobParams) (*models.EvaluationJob, error)
	List(ctx context.Context, filter models.EvaluationJobFilter) ([]models.EvaluationJob, error)
}

type uploadStore interface {
	SaveStream(ref string, r io.Reader) (int64, error)
	Open(ref string) (*os.File, error)
	Delete(ref string) error
}

type fileSigner interface {
	Sign(jobID, ref string) (string, time.Time, error)
	Verify(token string) (storage.Grant, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
	TryEnqueue(job jobs.Job) error
}

// EvaluationConfig configures intake and dispatch.
type EvaluationConfig struct {
	Rules           evaluation.Rules
	DispatchURL     string
	DispatchTimeout time.Duration
	// FilePathPrefix is prepended to signed tokens to form the download path
	// handed to the grader.
	FilePathPrefix string
}

// Upload is one answer sheet received by the intake endpoint.
type Upload struct {
	UserID   string
	TestID   string
	FileName string
	Size     int64
	MimeType string
	Content  io.Reader
}

// EvaluationService accepts uploads, tracks jobs and relays them to the
// external grader.
type EvaluationService struct {
	repo      evaluationJobRepository
	store     uploadStore
	signer    fileSigner
	queue     jobEnqueuer
	client    *http.Client
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    EvaluationConfig
	now       func() time.Time
}

// NewEvaluationService constructs the service. The queue may be attached
// later with AttachQueue since it is built around Dispatch.
func NewEvaluationService(repo evaluationJobRepository, store uploadStore, signer fileSigner, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, config EvaluationConfig) *EvaluationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Rules.Types == nil {
		config.Rules = evaluation.DefaultRules()
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = 15 * time.Second
	}
	return &EvaluationService{
		repo:      repo,
		store:     store,
		signer:    signer,
		client:    &http.Client{Timeout: config.DispatchTimeout},
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// AttachQueue sets the dispatch queue.
func (s *EvaluationService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// DispatchEnabled reports whether jobs are pushed to a grader URL.
func (s *EvaluationService) DispatchEnabled() bool {
	return s.config.DispatchURL != ""
}

// Rules returns the upload rules enforced at intake.
func (s *EvaluationService) Rules() evaluation.Rules {
	return s.config.Rules
}

// Submit validates and stores an upload and creates a queued job.
func (s *EvaluationService) Submit(ctx context.Context, actor *models.JWTClaims, upload Upload) (*models.EvaluationJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	userID := strings.TrimSpace(upload.UserID)
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !models.HasCapability(actor, models.CapEvaluationsReview) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot submit on behalf of another user")
	}

	rules := s.config.Rules
	if err := rules.Check(evaluation.FileInfo{Name: upload.FileName, Size: upload.Size, MimeType: upload.MimeType}); err != nil {
		return nil, err
	}
	reader := bufio.NewReaderSize(upload.Content, evaluation.SniffLen)
	head, err := reader.Peek(evaluation.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "could not read uploaded file")
	}
	if err := rules.MatchContent(head, upload.MimeType); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	ref := fmt.Sprintf("evaluations/%s/%s%s", s.now().UTC().Format("2006/01"), jobID, rules.Extension(upload.MimeType))
	maxSize := rules.MaxSize
	if maxSize <= 0 {
		maxSize = evaluation.DefaultMaxFileSize
	}
	written, err := s.store.SaveStream(ref, io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}
	if written > maxSize || written == 0 {
		s.discard(ref)
		return nil, rules.Check(evaluation.FileInfo{Name: upload.FileName, Size: written, MimeType: upload.MimeType})
	}

	job := &models.EvaluationJob{
		ID:            jobID,
		OwnerUserID:   userID,
		SourceFileRef: ref,
		FileName:      upload.FileName,
		MimeType:      strings.ToLower(upload.MimeType),
		SizeBytes:     written,
		Status:        evaluation.JobQueued,
	}
	if testID := strings.TrimSpace(upload.TestID); testID != "" {
		job.TestID = &testID
	}
	if err := s.repo.Create(ctx, job); err != nil {
		s.discard(ref)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation job")
	}
	s.metrics.RecordJobTransition(evaluation.JobQueued)
	s.logger.Info("evaluation job queued",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.Int64("size", written),
		zap.String("mime_type", job.MimeType))

	s.enqueue(job.ID)
	return job, nil
}

// Get returns a job visible to actor.
func (s *EvaluationService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.EvaluationJob, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if job.OwnerUserID != actor.UserID &&
		!models.HasCapability(actor, models.CapEvaluationsReview) &&
		!models.HasCapability(actor, models.CapEvaluationsReport) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "evaluation job belongs to another user")
	}
	return job, nil
}

// Report applies a status update sent by the grader. Finished jobs are
// immutable.
func (s *EvaluationService) Report(ctx context.Context, id string, req dto.EvaluationReportRequest) (*models.EvaluationJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status report")
	}
	params := repository.UpdateEvaluationJobParams{Status: &req.Status, Progress: req.Progress}
	switch req.Status {
	case evaluation.JobDone:
		if req.Result == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "result is required when status is done")
		}
		if req.Result.Score < 0 || req.Result.Score > 100 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 100")
		}
		params.Result = &models.EvaluationResult{Result: *req.Result}
		if params.Progress == nil {
			complete := 100
			params.Progress = &complete
		}
	case evaluation.JobFailed:
		msg := strings.TrimSpace(req.ErrorMessage)
		if msg == "" {
			msg = "evaluation failed"
		}
		params.ErrorMessage = &msg
	}

	job, err := s.repo.UpdateStatus(ctx, id, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, loadErr := s.load(ctx, id); loadErr != nil {
				return nil, loadErr
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "evaluation job already finished")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evaluation job")
	}
	s.metrics.RecordJobTransition(job.Status)
	s.logger.Info("evaluation job updated", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return job, nil
}

// Dispatch is the queue handler: it posts a queued job to the grader and
// marks it processing.
func (s *EvaluationService) Dispatch(ctx context.Context, qj jobs.Job) error {
	jobID, _ := qj.Payload.(string)
	if jobID == "" {
		jobID = qj.ID
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("dispatch skipped, job missing", zap.String("job_id", jobID))
			return nil
		}
		return err
	}
	if job.Status != evaluation.JobQueued {
		return nil
	}

	token, expiresAt, err := s.signer.Sign(job.ID, job.SourceFileRef)
	if err != nil {
		return fmt.Errorf("sign file url: %w", err)
	}
	payload := dto.EvaluationDispatch{
		JobID:          job.ID,
		FileRef:        job.SourceFileRef,
		FileURL:        s.config.FilePathPrefix + token,
		FileURLExpires: expiresAt,
		FileName:       job.FileName,
		MimeType:       job.MimeType,
		UserID:         job.OwnerUserID,
		TestID:         job.TestID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.config.DispatchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch evaluation %s: %w", job.ID, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch evaluation %s: grader responded %d", job.ID, resp.StatusCode)
	}

	processing := evaluation.JobProcessing
	if _, err := s.repo.UpdateStatus(ctx, job.ID, repository.UpdateEvaluationJobParams{Status: &processing}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The grader already reported a final status.
			return nil
		}
		return fmt.Errorf("mark evaluation %s processing: %w", job.ID, err)
	}
	s.metrics.RecordJobTransition(processing)
	s.logger.Info("evaluation dispatched", zap.String("job_id", job.ID), zap.Int("attempt", qj.Attempt+1))
	return nil
}

// GiveUp marks a job failed once the queue has exhausted its retries.
func (s *EvaluationService) GiveUp(ctx context.Context, qj jobs.Job, cause error) {
	jobID, _ := qj.Payload.(string)
	if jobID == "" {
		jobID = qj.ID
	}
	failed := evaluation.JobFailed
	msg := "evaluation could not be started"
	if _, err := s.repo.UpdateStatus(ctx, jobID, repository.UpdateEvaluationJobParams{Status: &failed, ErrorMessage: &msg}); err != nil {
		s.logger.Warn("failed to mark undeliverable job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.metrics.RecordJobTransition(failed)
	s.logger.Error("evaluation dispatch abandoned", zap.String("job_id", jobID), zap.Error(cause))
}

// ResumeQueued re-enqueues jobs left queued by a previous process.
func (s *EvaluationService) ResumeQueued(ctx context.Context) (int, error) {
	if !s.DispatchEnabled() || s.queue == nil {
		return 0, nil
	}
	pending, err := s.repo.List(ctx, models.EvaluationJobFilter{Status: evaluation.JobQueued, Limit: 500})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list queued evaluation jobs")
	}
	resumed := 0
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: DispatchJobType, Payload: job.ID}); err != nil {
			s.logger.Warn("failed to resume evaluation job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// OpenFile resolves a signed download token to the stored upload.
func (s *EvaluationService) OpenFile(ctx context.Context, token string) (*os.File, *models.EvaluationJob, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	job, err := s.load(ctx, grant.JobID)
	if err != nil {
		return nil, nil, err
	}
	if job.SourceFileRef != grant.Ref {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.store.Open(grant.Ref)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "uploaded file not found")
	}
	return file, job, nil
}

func (s *EvaluationService) load(ctx context.Context, id string) (*models.EvaluationJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation job")
	}
	return job, nil
}

func (s *EvaluationService) enqueue(jobID string) {
	if !s.DispatchEnabled() || s.queue == nil {
		return
	}
	// A full queue leaves the job queued; ResumeQueued picks it up later.
	if err := s.queue.TryEnqueue(jobs.Job{ID: jobID, Type: DispatchJobType, Payload: jobID}); err != nil {
		s.logger.Warn("failed to enqueue evaluation dispatch", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *EvaluationService) discard(ref string) {
	if err := s.store.Delete(ref); err != nil {
		s.logger.Warn("failed to remove stored upload", zap.String("ref", ref), zap.Error(err))
	}
}
