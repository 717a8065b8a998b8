// Package evaluation implements the answer-sheet upload workflow: file
// validation, submission to the intake endpoint and status polling until the
// evaluation job finishes.
package evaluation

// JobState is the server-side lifecycle of an evaluation job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobDone       JobState = "done"
	JobFailed     JobState = "failed"
)

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobDone, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Result is the grader output for a finished job.
type Result struct {
	Score   float64        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// Perfect reports a score of exactly 100.
func (r *Result) Perfect() bool {
	return r != nil && r.Score == 100
}

// JobStatus is the payload of the job status endpoint. A nil Progress means
// the grader does not report granular progress.
type JobStatus struct {
	Status       JobState `json:"status"`
	Progress     *int     `json:"progress,omitempty"`
	Result       *Result  `json:"result,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// Award reasons recorded in the points ledger.
const (
	ReasonCompleted    = "evaluation_completed"
	ReasonPerfectScore = "perfect_score"
)
