package models

import "time"

// XPPerLevel is the experience needed to advance one level.
const XPPerLevel = 500

// LevelFor derives the level from accumulated experience.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/XPPerLevel
}

// UserProfile holds the gamification state of a user.
type UserProfile struct {
	UserID    string    `db:"user_id" json:"userId"`
	XP        int       `db:"xp" json:"xp"`
	Level     int       `db:"-" json:"level"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// WithLevel fills the derived level.
func (p UserProfile) WithLevel() UserProfile {
	p.Level = LevelFor(p.XP)
	return p
}

// PointsEntry is one row of the points ledger.
type PointsEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Amount    int       `db:"amount" json:"amount"`
	Reason    string    `db:"reason" json:"reason"`
	JobID     *string   `db:"job_id" json:"jobId,omitempty"`
	AwardedBy *string   `db:"awarded_by" json:"awardedBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
