package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/models"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

type profileRepository interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	AddPoints(ctx context.Context, entry *models.PointsEntry) (*models.UserProfile, bool, error)
}

type jobReader interface {
	GetByID(ctx context.Context, id string) (*models.EvaluationJob, error)
}

// GamificationConfig sets the points a user may claim for their own jobs.
type GamificationConfig struct {
	CompletionPoints  int
	PerfectScoreBonus int
}

// GamificationService credits experience points and serves profiles.
type GamificationService struct {
	repo      profileRepository
	jobs      jobReader
	cache     ProfileCache
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    GamificationConfig
}

// NewGamificationService constructs the service.
func NewGamificationService(repo profileRepository, jobs jobReader, cache ProfileCache, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, config GamificationConfig) *GamificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GamificationService{repo: repo, jobs: jobs, cache: cache, validator: validate, metrics: metrics, logger: logger, config: config}
}

// AwardPoints credits userID. Callers without gamification.award may only
// claim the completion and perfect-score awards of their own finished jobs,
// each once per job.
func (s *GamificationService) AwardPoints(ctx context.Context, actor *models.JWTClaims, userID string, req dto.AwardPointsRequest) (*dto.AwardPointsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid points award")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !models.HasCapability(actor, models.CapGamificationAward) {
		if actor.UserID != userID {
			return nil, appErrors.ErrForbidden
		}
		if err := s.checkSelfAward(ctx, userID, req); err != nil {
			return nil, err
		}
	}

	entry := &models.PointsEntry{UserID: userID, Amount: req.Amount, Reason: req.Reason}
	if req.JobID != "" {
		jobID := req.JobID
		entry.JobID = &jobID
	}
	if actor.UserID != userID {
		awardedBy := actor.UserID
		entry.AwardedBy = &awardedBy
	}
	profile, awarded, err := s.repo.AddPoints(ctx, entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to award points")
	}
	if awarded {
		s.metrics.RecordPointsAwarded(req.Reason, req.Amount)
		s.logger.Info("points awarded",
			zap.String("user_id", userID),
			zap.Int("amount", req.Amount),
			zap.String("reason", req.Reason),
			zap.String("job_id", req.JobID))
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("profile cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
	return &dto.AwardPointsResponse{UserID: profile.UserID, XP: profile.XP, Level: profile.Level, Awarded: awarded}, nil
}

func (s *GamificationService) checkSelfAward(ctx context.Context, userID string, req dto.AwardPointsRequest) error {
	if req.JobID == "" {
		return appErrors.Clone(appErrors.ErrForbidden, "self awards must reference an evaluation job")
	}
	job, err := s.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "evaluation job not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation job")
	}
	if job.OwnerUserID != userID || job.Status != evaluation.JobDone {
		return appErrors.Clone(appErrors.ErrForbidden, "only finished evaluations of your own can be claimed")
	}
	switch req.Reason {
	case evaluation.ReasonCompleted:
		if req.Amount != s.config.CompletionPoints {
			return appErrors.Clone(appErrors.ErrForbidden, "completion award amount does not match")
		}
	case evaluation.ReasonPerfectScore:
		perfect := job.Result != nil && job.Result.Perfect()
		if !perfect || req.Amount != s.config.PerfectScoreBonus {
			return appErrors.Clone(appErrors.ErrForbidden, "perfect score bonus does not apply")
		}
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "reason cannot be self-awarded")
	}
	return nil
}

// Profile returns the profile of userID, served from the cache when fresh.
// Users without any points get a level 1 profile.
func (s *GamificationService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	cached, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("profile cache get failed", zap.String("user_id", userID), zap.Error(err))
	}
	if hit {
		return &cached, nil
	}
	profile, err := s.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
		}
		profile = &models.UserProfile{UserID: userID}
	}
	out := profile.WithLevel()
	if err := s.cache.Put(ctx, out); err != nil {
		s.logger.Warn("profile cache put failed", zap.String("user_id", userID), zap.Error(err))
	}
	return &out, nil
}
