package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/service"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// GamificationHandler serves points and profiles.
type GamificationHandler struct {
	service *service.GamificationService
}

// NewGamificationHandler creates a gamification handler.
func NewGamificationHandler(svc *service.GamificationService) *GamificationHandler {
	return &GamificationHandler{service: svc}
}

// AwardPoints godoc
// @Summary Award points
// @Description Credits experience points; each job award is credited once
// @Tags Gamification
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.AwardPointsRequest true "Points award"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/points [post]
func (h *GamificationHandler) AwardPoints(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req dto.AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	resp, err := h.service.AwardPoints(c.Request.Context(), user, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Profile godoc
// @Summary Get profile
// @Tags Gamification
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/profile [get]
func (h *GamificationHandler) Profile(c *gin.Context) {
	profile, err := h.service.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}
