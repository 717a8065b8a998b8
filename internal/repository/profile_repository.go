package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prepmint-api/internal/models"
)

// ProfileRepository persists user profiles and the points ledger.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns a profile row. Missing profiles yield sql.ErrNoRows.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	const query = `SELECT user_id, xp, created_at, updated_at FROM user_profiles WHERE user_id = $1`
	var profile models.UserProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	profile = profile.WithLevel()
	return &profile, nil
}

// AddPoints records entry in the ledger and credits the profile in one
// transaction. An entry repeating a (job, reason) pair is ignored and the
// unchanged profile is returned with awarded=false.
func (r *ProfileRepository) AddPoints(ctx context.Context, entry *models.PointsEntry) (*models.UserProfile, bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin points tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO user_profiles (user_id, xp, created_at, updated_at)
VALUES ($1, 0, $2, $2) ON CONFLICT (user_id) DO NOTHING`, entry.UserID, entry.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("ensure user profile: %w", err)
	}

	const ledger = `INSERT INTO points_ledger (id, user_id, amount, reason, job_id, awarded_by, created_at)
VALUES (:id, :user_id, :amount, :reason, :job_id, :awarded_by, :created_at)
ON CONFLICT (job_id, reason) WHERE job_id IS NOT NULL DO NOTHING`
	res, err := tx.NamedExecContext(ctx, ledger, entry)
	if err != nil {
		return nil, false, fmt.Errorf("insert points entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("points entry rows: %w", err)
	}

	var profile models.UserProfile
	if inserted == 0 {
		err = tx.GetContext(ctx, &profile, `SELECT user_id, xp, created_at, updated_at FROM user_profiles WHERE user_id = $1`, entry.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("get user profile: %w", err)
		}
	} else {
		err = tx.GetContext(ctx, &profile, `UPDATE user_profiles SET xp = xp + $1, updated_at = $2 WHERE user_id = $3
RETURNING user_id, xp, created_at, updated_at`, entry.Amount, entry.CreatedAt, entry.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("credit user profile: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit points tx: %w", err)
	}
	profile = profile.WithLevel()
	return &profile, inserted > 0, nil
}
