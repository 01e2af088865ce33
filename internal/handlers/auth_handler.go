package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"invento/internal/authz"
	"invento/internal/middleware"
	"invento/internal/models"
	"invento/internal/services"
)

// AuthHandler serves one login surface. The web surface keeps tokens in
// HttpOnly cookies; the mobile surface returns them in the body.
type AuthHandler struct {
	auth       *services.AuthService
	surface    authz.Surface
	cookies    CookieSettings
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAuthHandler(auth *services.AuthService, surface authz.Surface, cookies CookieSettings, accessTTL, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		auth:       auth,
		surface:    surface,
		cookies:    cookies,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (h *AuthHandler) web() bool { return h.surface == authz.SurfaceWeb }

// @Summary      Register an agency account
// @Description  Creates the account and emails 8 one-time recovery codes
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.RegisterRequest  true  "Registration data"
// @Success      201   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Failure      429   {object}  Envelope
// @Failure      500   {object}  Envelope
// @Router       /web/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "Registration completed successfully.", gin.H{"user": user})
}

// @Summary      Log in
// @Description  Checks credentials with device and IP lockout. Returns tokens, or a pending two-factor challenge.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        X-Device-Name  header    string               false  "Device name"
// @Param        body           body      models.LoginRequest  true   "Credentials"
// @Success      200            {object}  Envelope
// @Failure      401            {object}  Envelope
// @Failure      403            {object}  Envelope
// @Failure      422            {object}  Envelope
// @Failure      423            {object}  Envelope
// @Failure      500            {object}  Envelope
// @Router       /web/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), h.surface, req.Email, req.Password, deviceMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if res.TwoFactorPending {
		success(c, http.StatusOK, "2FA verification code sent to your email.", gin.H{
			"two_factor_required": true,
			"email":               res.User.Email,
		})
		return
	}
	h.respondTokens(c, http.StatusOK, "Login successful.", res)
}

// @Summary      Complete a two-factor login
// @Description  Accepts the emailed code or one recovery code and issues tokens
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.TwoFactorVerifyRequest  true  "Code"
// @Success      200   {object}  Envelope
// @Failure      401   {object}  Envelope
// @Failure      422   {object}  Envelope
// @Failure      423   {object}  Envelope
// @Router       /web/two-factor/verify [post]
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req models.TwoFactorVerifyRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" && strings.TrimSpace(req.RecoveryCode) == "" {
		validationFailed(c, map[string]string{"code": "The code field is required when recovery code is not present."})
		return
	}
	res, err := h.auth.VerifyTwoFactor(c.Request.Context(), h.surface, req.Email, req.Code, req.RecoveryCode, deviceMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondTokens(c, http.StatusOK, "Login successful.", res)
}

// @Summary      Rotate tokens
// @Description  Exchanges a refresh token (cookie on web, body on mobile) for a new pair. The old refresh token stops working.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.RefreshRequest  false  "Refresh token (mobile)"
// @Success      200   {object}  Envelope
// @Failure      401   {object}  Envelope
// @Router       /web/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	res, err := h.auth.Refresh(c.Request.Context(), h.refreshToken(c))
	if err != nil {
		if h.web() {
			h.cookies.clear(c, accessCookie)
			h.cookies.clear(c, refreshCookie)
		}
		respondError(c, err)
		return
	}
	h.respondTokens(c, http.StatusOK, "Token refreshed successfully.", res)
}

// @Summary      Log out this device
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	user := middleware.CurrentUser(c)
	err := h.auth.Logout(c.Request.Context(), user.ID, h.refreshToken(c), middleware.CurrentTokenID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if h.web() {
		h.cookies.clear(c, accessCookie)
		h.cookies.clear(c, refreshCookie)
	}
	success(c, http.StatusOK, "Logged out successfully.", nil)
}

// @Summary      Log out every device
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Envelope
// @Router       /web/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.auth.LogoutAll(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}
	if h.web() {
		h.cookies.clear(c, accessCookie)
		h.cookies.clear(c, refreshCookie)
	}
	success(c, http.StatusOK, "Logged out from all devices successfully.", nil)
}

// refreshToken reads the cookie on web and the JSON body otherwise.
func (h *AuthHandler) refreshToken(c *gin.Context) string {
	if h.web() {
		if v, err := c.Cookie(refreshCookie); err == nil && v != "" {
			return v
		}
	}
	var req models.RefreshRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (h *AuthHandler) respondTokens(c *gin.Context, code int, msg string, res *services.LoginResult) {
	expiresIn := int(h.accessTTL / time.Second)
	if h.web() {
		h.cookies.set(c, accessCookie, res.Tokens.AccessToken, h.accessTTL)
		h.cookies.set(c, refreshCookie, res.Tokens.RefreshToken, h.refreshTTL)
		data := gin.H{"user": res.User, "expires_in": expiresIn}
		// API clients without a cookie jar
		if strings.Contains(strings.ToLower(c.Request.UserAgent()), "postman") {
			data["access_token"] = res.Tokens.AccessToken
		}
		success(c, code, msg, data)
		return
	}
	success(c, code, msg, gin.H{
		"user":          res.User,
		"access_token":  res.Tokens.AccessToken,
		"refresh_token": res.Tokens.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	})
}
