package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"invento/internal/models"
	"invento/internal/services"
)

type PasswordResetHandler struct {
	resets services.PasswordResetService
}

func NewPasswordResetHandler(resets services.PasswordResetService) *PasswordResetHandler {
	return &PasswordResetHandler{resets: resets}
}

// @Summary      Request a password reset
// @Description  Always answers 200 so account existence is not revealed
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.ForgotPasswordRequest  true  "Email"
// @Success      200   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Router       /web/forgot-password [post]
func (h *PasswordResetHandler) Forgot(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.resets.RequestReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "If the email exists, a reset link has been sent.", nil)
}

// @Summary      Reset password with an emailed token
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.ResetPasswordRequest  true  "Token and new password"
// @Success      200   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Router       /web/reset-password [post]
func (h *PasswordResetHandler) Reset(c *gin.Context) {
	var req models.ResetPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.resets.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Password has been reset. Please log in.", nil)
}
