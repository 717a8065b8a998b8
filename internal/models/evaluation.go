package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/prepmint-api/internal/evaluation"
)

// EvaluationResult persists the grader output as JSONB.
type EvaluationResult struct {
	evaluation.Result
}

// Value marshals the result to JSON for persistence.
func (r EvaluationResult) Value() (driver.Value, error) {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation result: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the result.
func (r *EvaluationResult) Scan(value interface{}) error {
	if value == nil {
		*r = EvaluationResult{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for EvaluationResult", value)
	}
	if len(data) == 0 {
		*r = EvaluationResult{}
		return nil
	}
	if err := json.Unmarshal(data, &r.Result); err != nil {
		return fmt.Errorf("unmarshal evaluation result: %w", err)
	}
	return nil
}

// EvaluationJob is one uploaded answer sheet awaiting or holding a grade.
type EvaluationJob struct {
	ID            string              `db:"id" json:"id"`
	OwnerUserID   string              `db:"owner_user_id" json:"ownerUserId"`
	TestID        *string             `db:"test_id" json:"testId,omitempty"`
	SourceFileRef string              `db:"source_file_ref" json:"sourceFileRef"`
	FileName      string              `db:"file_name" json:"fileName"`
	MimeType      string              `db:"mime_type" json:"mimeType"`
	SizeBytes     int64               `db:"size_bytes" json:"sizeBytes"`
	Status        evaluation.JobState `db:"status" json:"status"`
	Progress      *int                `db:"progress" json:"progress,omitempty"`
	Result        *EvaluationResult   `db:"result" json:"result,omitempty"`
	ErrorMessage  *string             `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updatedAt"`
}

// StatusView renders the job in the shape polled by clients.
func (j EvaluationJob) StatusView() evaluation.JobStatus {
	out := evaluation.JobStatus{Status: j.Status, Progress: j.Progress}
	if j.Result != nil {
		res := j.Result.Result
		out.Result = &res
	}
	if j.ErrorMessage != nil {
		out.ErrorMessage = *j.ErrorMessage
	}
	return out
}

// EvaluationJobFilter narrows job listings.
type EvaluationJobFilter struct {
	Status      evaluation.JobState
	OwnerUserID string
	Limit       int
}
