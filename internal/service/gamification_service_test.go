package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/models"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

type mockProfileRepo struct {
	profiles map[string]*models.UserProfile
	claimed  map[string]bool
	getCalls int
	entries  []models.PointsEntry
	err      error
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[string]*models.UserProfile), claimed: make(map[string]bool)}
}

func (m *mockProfileRepo) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	profile, ok := m.profiles[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := profile.WithLevel()
	return &out, nil
}

func (m *mockProfileRepo) AddPoints(ctx context.Context, entry *models.PointsEntry) (*models.UserProfile, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	profile, ok := m.profiles[entry.UserID]
	if !ok {
		profile = &models.UserProfile{UserID: entry.UserID}
		m.profiles[entry.UserID] = profile
	}
	if entry.JobID != nil {
		key := *entry.JobID + "/" + entry.Reason
		if m.claimed[key] {
			out := profile.WithLevel()
			return &out, false, nil
		}
		m.claimed[key] = true
	}
	m.entries = append(m.entries, *entry)
	profile.XP += entry.Amount
	out := profile.WithLevel()
	return &out, true, nil
}

func newGamificationFixture(t *testing.T) (*GamificationService, *mockProfileRepo, *mockJobRepo, *MemoryProfileCache) {
	t.Helper()
	repo := newMockProfileRepo()
	jobRepo := newMockJobRepo()
	cache := NewMemoryProfileCache(time.Minute, nil)
	svc := NewGamificationService(repo, jobRepo, cache, nil, NewMetricsService(), zap.NewNop(), GamificationConfig{
		CompletionPoints:  50,
		PerfectScoreBonus: 25,
	})
	return svc, repo, jobRepo, cache
}

func seedJob(repo *mockJobRepo, id, owner string, status evaluation.JobState, score float64) {
	job := &models.EvaluationJob{ID: id, OwnerUserID: owner, Status: status}
	if status == evaluation.JobDone {
		job.Result = &models.EvaluationResult{Result: evaluation.Result{Score: score}}
	}
	repo.jobs[id] = job
}

func TestGamificationServiceSelfAwardRules(t *testing.T) {
	svc, repo, jobRepo, _ := newGamificationFixture(t)
	seedJob(jobRepo, "job-done", "user-1", evaluation.JobDone, 100)
	seedJob(jobRepo, "job-partial", "user-1", evaluation.JobDone, 70)
	seedJob(jobRepo, "job-running", "user-1", evaluation.JobProcessing, 0)
	seedJob(jobRepo, "job-other", "user-2", evaluation.JobDone, 100)
	ctx := context.Background()

	resp, err := svc.AwardPoints(ctx, student, "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-done"})
	require.NoError(t, err)
	assert.True(t, resp.Awarded)
	assert.Equal(t, 50, resp.XP)

	resp, err = svc.AwardPoints(ctx, student, "user-1", dto.AwardPointsRequest{Amount: 25, Reason: evaluation.ReasonPerfectScore, JobID: "job-done"})
	require.NoError(t, err)
	assert.Equal(t, 75, resp.XP)

	// Claiming the same award twice credits nothing.
	resp, err = svc.AwardPoints(ctx, student, "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-done"})
	require.NoError(t, err)
	assert.False(t, resp.Awarded)
	assert.Equal(t, 75, resp.XP)

	cases := []struct {
		name string
		user string
		req  dto.AwardPointsRequest
		want *appErrors.Error
	}{
		{"other user", "user-2", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-other"}, appErrors.ErrForbidden},
		{"no job", "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted}, appErrors.ErrForbidden},
		{"wrong amount", "user-1", dto.AwardPointsRequest{Amount: 500, Reason: evaluation.ReasonCompleted, JobID: "job-partial"}, appErrors.ErrForbidden},
		{"not perfect", "user-1", dto.AwardPointsRequest{Amount: 25, Reason: evaluation.ReasonPerfectScore, JobID: "job-partial"}, appErrors.ErrForbidden},
		{"unfinished", "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-running"}, appErrors.ErrForbidden},
		{"foreign job", "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-other"}, appErrors.ErrForbidden},
		{"custom reason", "user-1", dto.AwardPointsRequest{Amount: 10, Reason: "streak", JobID: "job-partial"}, appErrors.ErrForbidden},
		{"missing job", "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-missing"}, appErrors.ErrNotFound},
		{"zero amount", "user-1", dto.AwardPointsRequest{Amount: 0, Reason: evaluation.ReasonCompleted, JobID: "job-done"}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AwardPoints(ctx, student, tc.user, tc.req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Len(t, repo.entries, 2)
}

func TestGamificationServiceAdminAward(t *testing.T) {
	svc, repo, _, _ := newGamificationFixture(t)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RolePlatformAdmin}

	resp, err := svc.AwardPoints(context.Background(), admin, "user-9", dto.AwardPointsRequest{Amount: 600, Reason: "competition"})
	require.NoError(t, err)
	assert.Equal(t, 600, resp.XP)
	assert.Equal(t, 2, resp.Level)
	require.Len(t, repo.entries, 1)
	require.NotNil(t, repo.entries[0].AwardedBy)
	assert.Equal(t, "admin-1", *repo.entries[0].AwardedBy)
}

func TestGamificationServiceProfileUsesCache(t *testing.T) {
	svc, repo, jobRepo, cache := newGamificationFixture(t)
	repo.profiles["user-1"] = &models.UserProfile{UserID: "user-1", XP: 1200}
	ctx := context.Background()

	profile, err := svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, profile.Level)

	_, err = svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getCalls)

	seedJob(jobRepo, "job-1", "user-1", evaluation.JobDone, 10)
	_, err = svc.AwardPoints(ctx, student, "user-1", dto.AwardPointsRequest{Amount: 50, Reason: evaluation.ReasonCompleted, JobID: "job-1"})
	require.NoError(t, err)
	_, hit, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, hit)

	profile, err = svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1250, profile.XP)
	assert.Equal(t, 2, repo.getCalls)
}

func TestGamificationServiceProfileDefaults(t *testing.T) {
	svc, repo, _, _ := newGamificationFixture(t)

	profile, err := svc.Profile(context.Background(), "new-user")
	require.NoError(t, err)
	assert.Equal(t, 0, profile.XP)
	assert.Equal(t, 1, profile.Level)

	repo.err = errors.New("db down")
	_, err = svc.Profile(context.Background(), "other-user")
	require.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestSessionServiceSignOutDropsProfile(t *testing.T) {
	cache := NewMemoryProfileCache(time.Minute, nil)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, models.UserProfile{UserID: "user-1", XP: 10}))
	require.NoError(t, cache.Put(ctx, models.UserProfile{UserID: "user-2", XP: 20}))

	svc := NewSessionService(cache, nil)
	svc.SignOut(ctx, "user-1")

	_, hit, _ := cache.Get(ctx, "user-1")
	assert.False(t, hit)
	_, hit, _ = cache.Get(ctx, "user-2")
	assert.True(t, hit)

	require.NoError(t, svc.Flush(ctx))
	_, hit, _ = cache.Get(ctx, "user-2")
	assert.False(t, hit)
}
