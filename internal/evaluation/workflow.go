package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// Phase is the client-side workflow state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseRejected   Phase = "rejected"
	PhaseUploading  Phase = "uploading"
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultPollTimeout       = 10 * time.Minute
	DefaultMaxPollErrors     = 3
	DefaultCompletionPoints  = 50
	DefaultPerfectScoreBonus = 25
)

// ErrClosed is returned once the workflow has been closed.
var ErrClosed = appErrors.New("WORKFLOW_CLOSED", http.StatusConflict, "evaluation workflow is closed")

const genericFailure = "upload failed, please try again"

// File is a file offered for upload.
type File struct {
	FileInfo
	Open func() (io.ReadCloser, error)
}

// Submission is what the intake endpoint receives.
type Submission struct {
	File   File
	UserID string
	TestID string
}

// Intake submits files and reports job status.
type Intake interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// Awarder adds points to a user profile.
type Awarder interface {
	AwardPoints(ctx context.Context, userID string, amount int, reason, jobID string) error
}

// Config tunes polling and rewards. Zero values take the defaults.
type Config struct {
	Rules             Rules
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MaxPollErrors     int
	CompletionPoints  int
	PerfectScoreBonus int
}

func (c Config) withDefaults() Config {
	if c.Rules.Types == nil {
		c.Rules = DefaultRules()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = DefaultMaxPollErrors
	}
	if c.CompletionPoints <= 0 {
		c.CompletionPoints = DefaultCompletionPoints
	}
	if c.PerfectScoreBonus <= 0 {
		c.PerfectScoreBonus = DefaultPerfectScoreBonus
	}
	return c
}

// Snapshot is an immutable view of the workflow.
type Snapshot struct {
	Phase        Phase
	File         *FileInfo
	RejectReason string
	JobID        string
	Progress     *int
	Result       *Result
	ErrorMessage string
	Polling      bool
}

// Indeterminate reports that no progress figure is available.
func (s Snapshot) Indeterminate() bool {
	return s.Progress == nil
}

// Option customises a Workflow.
type Option func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithListener is called with a snapshot after every transition. It may run
// on the polling goroutine and must not call Stop or Close.
func WithListener(fn func(Snapshot)) Option {
	return func(w *Workflow) { w.listener = fn }
}

// Workflow drives one upload at a time from file selection to a terminal
// job state.
type Workflow struct {
	intake   Intake
	awarder  Awarder
	cfg      Config
	logger   *zap.Logger
	listener func(Snapshot)

	mu       sync.Mutex
	state    Snapshot
	file     *File
	userID   string
	closed   bool
	stopPoll context.CancelFunc
	pollDone chan struct{}
	awarded  map[string]struct{}
}

// New builds an idle workflow. awarder may be nil to skip point awards.
func New(intake Intake, awarder Awarder, cfg Config, opts ...Option) *Workflow {
	w := &Workflow{
		intake:  intake,
		awarder: awarder,
		cfg:     cfg.withDefaults(),
		logger:  zap.NewNop(),
		state:   Snapshot{Phase: PhaseIdle},
		awarded: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SelectFile validates f. A rejected file moves the workflow to the rejected
// phase and the returned validation error carries the reason.
func (w *Workflow) SelectFile(f File) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.busyLocked() {
		w.mu.Unlock()
		return appErrors.Clone(appErrors.ErrConflict, "an upload is already in progress")
	}
	info := f.FileInfo
	w.file = nil
	w.state = Snapshot{Phase: PhaseValidating, File: &info}
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	err := w.cfg.Rules.Check(info)

	w.mu.Lock()
	if err != nil {
		w.state.Phase = PhaseRejected
		w.state.RejectReason = appErrors.FromError(err).Message
	} else {
		w.file = &f
	}
	snap = w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
	return err
}

// Submit uploads the selected file for userID and starts polling the job.
func (w *Workflow) Submit(ctx context.Context, userID, testID string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state.Phase != PhaseValidating || w.file == nil {
		w.mu.Unlock()
		return appErrors.Clone(appErrors.ErrConfiguration, "select a valid file before submitting")
	}
	if userID == "" {
		w.mu.Unlock()
		return appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	file := *w.file
	w.userID = userID
	w.state.Phase = PhaseUploading
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	jobID, err := w.intake.Submit(ctx, Submission{File: file, UserID: userID, TestID: testID})

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		w.state.Phase = PhaseFailed
		w.state.ErrorMessage = surfaceMessage(err)
		snap = w.snapshotLocked()
		w.mu.Unlock()
		w.logger.Warn("evaluation upload failed", zap.String("user_id", userID), zap.Error(err))
		w.notify(snap)
		return err
	}
	w.state.Phase = PhaseQueued
	w.state.JobID = jobID
	pollCtx, cancel := context.WithCancel(context.Background())
	w.stopPoll = cancel
	w.pollDone = make(chan struct{})
	w.state.Polling = true
	done := w.pollDone
	snap = w.snapshotLocked()
	w.mu.Unlock()

	w.logger.Info("evaluation submitted", zap.String("job_id", jobID), zap.String("user_id", userID))
	w.notify(snap)
	go w.poll(pollCtx, jobID, done)
	return nil
}

// Stop halts polling and waits for the loop to exit, so no status request
// is issued after it returns. The job keeps running server-side. Stop is
// idempotent.
func (w *Workflow) Stop() {
	w.mu.Lock()
	cancel, done := w.stopPoll, w.pollDone
	w.stopPoll = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.mu.Lock()
	w.state.Polling = false
	w.mu.Unlock()
}

// Close stops polling and rejects further use.
func (w *Workflow) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.Stop()
	return nil
}

// Reset returns a finished, failed or rejected workflow to idle.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.busyLocked() {
		return appErrors.Clone(appErrors.ErrConflict, "cannot reset while an upload is in progress")
	}
	w.state = Snapshot{Phase: PhaseIdle}
	w.file = nil
	w.userID = ""
	return nil
}

// Wait blocks until the polling loop exits or ctx ends.
func (w *Workflow) Wait(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	done := w.pollDone
	w.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return w.Snapshot(), ctx.Err()
		}
	}
	return w.Snapshot(), nil
}

func (w *Workflow) poll(ctx context.Context, jobID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.cfg.PollTimeout)
	defer deadline.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			w.finish(ctx, jobID, JobStatus{Status: JobFailed, ErrorMessage: "evaluation timed out"})
			return
		case <-ticker.C:
		}

		status, err := w.intake.Status(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			w.logger.Warn("evaluation status poll failed",
				zap.String("job_id", jobID),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= w.cfg.MaxPollErrors {
				w.finish(ctx, jobID, JobStatus{Status: JobFailed, ErrorMessage: fmt.Sprintf("could not fetch evaluation status: %s", surfaceMessage(err))})
				return
			}
			continue
		}
		failures = 0
		if status.Status.Terminal() {
			w.finish(ctx, jobID, status)
			return
		}
		w.progress(status)
	}
}

func (w *Workflow) progress(status JobStatus) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if status.Status == JobProcessing {
		w.state.Phase = PhaseProcessing
	}
	if status.Progress != nil {
		p := *status.Progress
		w.state.Progress = &p
	}
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
}

func (w *Workflow) finish(ctx context.Context, jobID string, status JobStatus) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.state.Polling = false
	w.stopPoll = nil
	if status.Progress != nil {
		p := *status.Progress
		w.state.Progress = &p
	}
	userID := w.userID
	if status.Status == JobDone {
		w.state.Phase = PhaseDone
		w.state.Result = status.Result
	} else {
		w.state.Phase = PhaseFailed
		w.state.ErrorMessage = status.ErrorMessage
		if w.state.ErrorMessage == "" {
			w.state.ErrorMessage = "evaluation failed"
		}
	}
	snap := w.snapshotLocked()
	w.mu.Unlock()

	w.logger.Info("evaluation finished", zap.String("job_id", jobID), zap.String("status", string(status.Status)))
	w.notify(snap)
	if status.Status == JobDone {
		w.award(ctx, userID, jobID, w.cfg.CompletionPoints, ReasonCompleted)
		if status.Result.Perfect() {
			w.award(ctx, userID, jobID, w.cfg.PerfectScoreBonus, ReasonPerfectScore)
		}
	}
}

// award is best-effort: failures are logged and never touch the result.
func (w *Workflow) award(ctx context.Context, userID, jobID string, amount int, reason string) {
	if w.awarder == nil {
		return
	}
	key := jobID + "/" + reason
	w.mu.Lock()
	if _, seen := w.awarded[key]; seen {
		w.mu.Unlock()
		return
	}
	w.awarded[key] = struct{}{}
	w.mu.Unlock()

	if err := w.awarder.AwardPoints(ctx, userID, amount, reason, jobID); err != nil {
		w.logger.Warn("awarding evaluation points failed",
			zap.String("user_id", userID),
			zap.String("job_id", jobID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (w *Workflow) busyLocked() bool {
	switch w.state.Phase {
	case PhaseUploading:
		return true
	case PhaseQueued, PhaseProcessing:
		return w.state.Polling
	}
	return false
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := w.state
	if snap.File != nil {
		f := *snap.File
		snap.File = &f
	}
	if snap.Progress != nil {
		p := *snap.Progress
		snap.Progress = &p
	}
	return snap
}

func (w *Workflow) notify(snap Snapshot) {
	if w.listener != nil {
		w.listener(snap)
	}
}

// surfaceMessage returns server-provided messages for client-side faults
// and a generic text for everything else.
func surfaceMessage(err error) string {
	var typed *appErrors.Error
	if errors.As(err, &typed) && typed.Status >= 400 && typed.Status < 500 && typed.Message != "" {
		return typed.Message
	}
	return genericFailure
}
