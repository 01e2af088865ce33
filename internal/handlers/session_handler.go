package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"invento/internal/middleware"
	"invento/internal/services"
)

type SessionHandler struct {
	sessions *services.SessionService
}

func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// @Summary      List my sessions
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)
	list, err := h.sessions.List(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Sessions retrieved successfully.", gin.H{"sessions": list})
}

// @Summary      Terminate one of my sessions
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Session ID"
// @Success      200  {object}  Envelope
// @Failure      404  {object}  Envelope
// @Router       /web/sessions/{id} [delete]
func (h *SessionHandler) Destroy(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if err := h.sessions.Destroy(c.Request.Context(), user.ID, id); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Session terminated", nil)
}
