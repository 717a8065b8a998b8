package dto

// AwardPointsRequest captures POST /users/:id/points payload.
type AwardPointsRequest struct {
	Amount int    `json:"amount" validate:"required,min=1,max=10000"`
	Reason string `json:"reason" validate:"required,max=64"`
	JobID  string `json:"jobId,omitempty" validate:"omitempty,max=64"`
}

// AwardPointsResponse reports the profile after an award.
type AwardPointsResponse struct {
	UserID  string `json:"userId"`
	XP      int    `json:"xp"`
	Level   int    `json:"level"`
	Awarded bool   `json:"awarded"`
}
