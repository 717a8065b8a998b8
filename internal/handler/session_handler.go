package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prepmint-api/internal/service"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// SessionHandler serves session housekeeping endpoints.
type SessionHandler struct {
	service *service.SessionService
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// SignOut godoc
// @Summary Sign out
// @Description Drops server-side cached state of the caller
// @Tags Session
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /session/signout [post]
func (h *SessionHandler) SignOut(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	h.service.SignOut(c.Request.Context(), user.UserID)
	response.NoContent(c)
}
