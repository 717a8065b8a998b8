package service

import (
	"context"

	"go.uber.org/zap"
)

// SessionService handles server-side session housekeeping. Token issuance
// and revocation belong to the external session layer.
type SessionService struct {
	cache  ProfileCache
	logger *zap.Logger
}

// NewSessionService constructs the service.
func NewSessionService(cache ProfileCache, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{cache: cache, logger: logger}
}

// SignOut drops the cached profile of userID so the next sign-in reads
// fresh data. Cache failures are logged, not returned.
func (s *SessionService) SignOut(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("profile cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Info("session signed out", zap.String("user_id", userID))
}

// Flush clears every cached profile.
func (s *SessionService) Flush(ctx context.Context) error {
	return s.cache.Clear(ctx)
}
