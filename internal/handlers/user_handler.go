package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"invento/internal/middleware"
	"invento/internal/models"
	"invento/internal/services"
)

type UserHandler struct {
	users     services.UserService
	twoFactor *services.TwoFactorService
	cookies   CookieSettings
	web       bool
}

func NewUserHandler(users services.UserService, twoFactor *services.TwoFactorService, cookies CookieSettings, web bool) *UserHandler {
	return &UserHandler{users: users, twoFactor: twoFactor, cookies: cookies, web: web}
}

// @Summary      Current user
// @Tags         Profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/profile [get]
func (h *UserHandler) Profile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	data := gin.H{
		"user":                     user,
		"recovery_codes_remaining": h.twoFactor.RemainingRecoveryCodes(user),
	}
	if acc := middleware.CurrentAccount(c); acc != nil {
		data["account"] = gin.H{"id": acc.ID, "name": acc.Name}
	}
	success(c, http.StatusOK, "Profile retrieved successfully.", data)
}

// @Summary      Change password
// @Description  Signs the user out of every device
// @Tags         Profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.ChangePasswordRequest  true  "Passwords"
// @Success      200   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Router       /web/password [post]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if !bind(c, &req) {
		return
	}
	user := middleware.CurrentUser(c)
	if err := h.users.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	if h.web {
		h.cookies.clear(c, accessCookie)
		h.cookies.clear(c, refreshCookie)
	}
	success(c, http.StatusOK, "Password changed successfully. Please log in again.", nil)
}

// @Summary      Enable two-factor login
// @Tags         Profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/two-factor/enable [post]
func (h *UserHandler) EnableTwoFactor(c *gin.Context) {
	h.setTwoFactor(c, true, "Two-factor authentication enabled.")
}

// @Summary      Disable two-factor login
// @Tags         Profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/two-factor/disable [post]
func (h *UserHandler) DisableTwoFactor(c *gin.Context) {
	h.setTwoFactor(c, false, "Two-factor authentication disabled.")
}

func (h *UserHandler) setTwoFactor(c *gin.Context, enabled bool, msg string) {
	user := middleware.CurrentUser(c)
	if err := h.twoFactor.SetEnabled(c.Request.Context(), user.ID, enabled); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, msg, gin.H{"two_factor_enabled": enabled})
}

// @Summary      Regenerate recovery codes
// @Description  Replaces every recovery code; the new ones are emailed once and never returned here
// @Tags         Profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/two-factor/recovery-codes [post]
func (h *UserHandler) RegenerateRecoveryCodes(c *gin.Context) {
	user := middleware.CurrentUser(c)
	n, err := h.twoFactor.RegenerateRecoveryCodes(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "New recovery codes were sent to your email.", gin.H{"count": n})
}

// @Summary      Trashed staff accounts
// @Tags         Staff
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/users/trashed [get]
func (h *UserHandler) ListTrashed(c *gin.Context) {
	list, err := h.users.ListTrashed(c.Request.Context(), middleware.CurrentAccount(c))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Trashed users retrieved successfully.", gin.H{"users": list})
}

// @Summary      Move a staff account to trash
// @Tags         Staff
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  Envelope
// @Failure      404  {object}  Envelope
// @Router       /web/users/{id} [delete]
func (h *UserHandler) Trash(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.users.Trash(c.Request.Context(), middleware.CurrentAccount(c), id); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User moved to trash.", nil)
}

// @Summary      Restore a trashed staff account
// @Tags         Staff
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  Envelope
// @Failure      404  {object}  Envelope
// @Router       /web/users/{id}/restore [post]
func (h *UserHandler) Restore(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.users.Restore(c.Request.Context(), middleware.CurrentAccount(c), id); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User restored.", nil)
}

// @Summary      Permanently delete a trashed staff account
// @Tags         Staff
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  Envelope
// @Failure      404  {object}  Envelope
// @Router       /web/users/{id}/force [delete]
func (h *UserHandler) ForceDelete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.users.ForceDelete(c.Request.Context(), middleware.CurrentAccount(c), id); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User permanently deleted.", nil)
}

// @Summary      Activate or deactivate a staff account
// @Tags         Staff
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                   true  "User ID"
// @Param        body  body      models.StatusRequest  true  "Status"
// @Success      200   {object}  Envelope
// @Failure      404   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Router       /web/users/{id}/status [patch]
func (h *UserHandler) SetStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.StatusRequest
	if !bind(c, &req) {
		return
	}
	if err := h.users.SetStatus(c.Request.Context(), middleware.CurrentAccount(c), id, req.Status); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User status updated.", gin.H{"status": req.Status})
}
