package dto

import (
	"time"

	"github.com/noah-isme/prepmint-api/internal/evaluation"
)

// SubmitEvaluationResponse is returned after an upload is accepted.
type SubmitEvaluationResponse struct {
	JobID string `json:"jobId"`
}

// EvaluationReportRequest captures PATCH /evaluations/jobs/:id payload sent
// by the grader.
type EvaluationReportRequest struct {
	Status       evaluation.JobState `json:"status" validate:"required,oneof=queued processing done failed"`
	Progress     *int                `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Result       *evaluation.Result  `json:"result,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty" validate:"max=1000"`
}

// EvaluationDispatch is posted to the grader for every queued job. FileURL
// is a server-relative path carrying a signed download token.
type EvaluationDispatch struct {
	JobID          string    `json:"jobId"`
	FileRef        string    `json:"fileRef"`
	FileURL        string    `json:"fileUrl"`
	FileURLExpires time.Time `json:"fileUrlExpiresAt"`
	FileName       string    `json:"fileName"`
	MimeType       string    `json:"mimeType"`
	UserID         string    `json:"userId"`
	TestID         *string   `json:"testId,omitempty"`
}
