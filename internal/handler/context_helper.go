package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prepmint-api/internal/middleware"
	"github.com/noah-isme/prepmint-api/internal/models"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// requireUser returns the authenticated caller or writes a 401.
func requireUser(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
