package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload minted by the session layer.
type JWTClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	Email         string   `json:"email,omitempty"`
	InstitutionID string   `json:"institution_id,omitempty"`
	jwt.RegisteredClaims
}
