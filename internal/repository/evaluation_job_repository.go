package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/models"
)

const evaluationJobColumns = `id, owner_user_id, test_id, source_file_ref, file_name, mime_type, size_bytes, status, progress, result, error_message, created_at, updated_at`

// EvaluationJobRepository persists evaluation jobs.
type EvaluationJobRepository struct {
	db *sqlx.DB
}

// NewEvaluationJobRepository constructs the repository.
func NewEvaluationJobRepository(db *sqlx.DB) *EvaluationJobRepository {
	return &EvaluationJobRepository{db: db}
}

// Create inserts a new job row with generated defaults.
func (r *EvaluationJobRepository) Create(ctx context.Context, job *models.EvaluationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = evaluation.JobQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	const query = `INSERT INTO evaluation_jobs (id, owner_user_id, test_id, source_file_ref, file_name, mime_type, size_bytes, status, progress, result, error_message, created_at, updated_at)
VALUES (:id, :owner_user_id, :test_id, :source_file_ref, :file_name, :mime_type, :size_bytes, :status, :progress, :result, :error_message, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create evaluation job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *EvaluationJobRepository) GetByID(ctx context.Context, id string) (*models.EvaluationJob, error) {
	query := `SELECT ` + evaluationJobColumns + `
FROM evaluation_jobs WHERE id = $1`
	var job models.EvaluationJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get evaluation job: %w", err)
	}
	return &job, nil
}

// UpdateEvaluationJobParams defines the mutable fields.
type UpdateEvaluationJobParams struct {
	Status       *evaluation.JobState
	Progress     *int
	Result       *models.EvaluationResult
	ErrorMessage *string
}

// UpdateStatus applies params to a job that has not reached a terminal
// state and returns the updated row. sql.ErrNoRows is returned when the job
// is missing or already finished.
func (r *EvaluationJobRepository) UpdateStatus(ctx context.Context, id string, params UpdateEvaluationJobParams) (*models.EvaluationJob, error) {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Progress != nil {
		set = append(set, fmt.Sprintf("progress = $%d", argPos))
		args = append(args, *params.Progress)
		argPos++
	}
	if params.Result != nil {
		set = append(set, fmt.Sprintf("result = $%d", argPos))
		args = append(args, *params.Result)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE evaluation_jobs SET %s WHERE id = $%d AND status NOT IN ('done', 'failed') RETURNING %s",
		strings.Join(set, ", "), argPos, evaluationJobColumns)
	args = append(args, id)

	var job models.EvaluationJob
	if err := r.db.GetContext(ctx, &job, query, args...); err != nil {
		return nil, fmt.Errorf("update evaluation job: %w", err)
	}
	return &job, nil
}

// List fetches jobs oldest first (used for cold start recovery).
func (r *EvaluationJobRepository) List(ctx context.Context, filter models.EvaluationJobFilter) ([]models.EvaluationJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OwnerUserID != "" {
		args = append(args, filter.OwnerUserID)
		conditions = append(conditions, fmt.Sprintf("owner_user_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf("SELECT %s FROM evaluation_jobs%s ORDER BY created_at ASC LIMIT $%d", evaluationJobColumns, where, len(args))

	var jobs []models.EvaluationJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluation jobs: %w", err)
	}
	return jobs, nil
}
