package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/services"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// validation errors name fields by their json tag
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// Envelope is the shape of every JSON response.
type Envelope struct {
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func success(c *gin.Context, code int, msg string, data any) {
	c.JSON(code, Envelope{Status: true, Message: msg, Data: data})
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, Envelope{Status: false, Message: msg})
}

func validationFailed(c *gin.Context, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, Envelope{
		Status:  false,
		Message: "The given data was invalid.",
		Errors:  fields,
	})
}

// bind decodes the JSON body and answers 422 (first error per field) or
// 400 itself. It reports whether the handler may continue.
func bind(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		validationFailed(c, flattenValidation(verrs))
		return false
	}
	fail(c, http.StatusBadRequest, "Invalid request body.")
	return false
}

func flattenValidation(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = validationMessage(field, fe)
	}
	return out
}

func validationMessage(field string, fe validator.FieldError) string {
	label := strings.ReplaceAll(field, "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", label)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", label)
	case "min":
		return fmt.Sprintf("The %s must be at least %s characters.", label, fe.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters.", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", label)
	default:
		return fmt.Sprintf("The %s is invalid.", label)
	}
}

// respondError maps service errors onto status codes and client messages.
// Internal causes never reach the client.
func respondError(c *gin.Context, err error) {
	var (
		verr   *services.ValidationError
		locked *services.LockedError
	)
	switch {
	case errors.As(err, &verr):
		validationFailed(c, verr.Fields)
	case errors.As(err, &locked):
		c.Header("Retry-After", strconv.Itoa(int(locked.RetryAfter().Round(time.Second)/time.Second)))
		fail(c, http.StatusLocked, locked.Message())
	case errors.Is(err, services.ErrRoleNotAllowed):
		fail(c, http.StatusForbidden, "You are not authorized to access this system.")
	case errors.Is(err, services.ErrAccountInactive):
		fail(c, http.StatusForbidden, "Your account is inactive. Please contact support.")
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "Invalid email or password.")
	case errors.Is(err, services.ErrInvalidTwoFactorCode):
		fail(c, http.StatusUnauthorized, "Invalid or expired verification code.")
	case errors.Is(err, services.ErrRefreshTokenMissing):
		fail(c, http.StatusUnauthorized, "Refresh token is missing.")
	case errors.Is(err, services.ErrInvalidRefreshToken):
		fail(c, http.StatusUnauthorized, "Invalid or expired refresh token.")
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "Session not found.")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, "User not found.")
	case errors.Is(err, services.ErrLoginFailed):
		fail(c, http.StatusInternalServerError, "Login failed. Please try again later.")
	case errors.Is(err, services.ErrRegistrationFailed):
		fail(c, http.StatusInternalServerError, "Registration failed. Please try again.")
	case errors.Is(err, services.ErrRefreshFailed):
		fail(c, http.StatusInternalServerError, "Token refresh failed. Please try again later.")
	default:
		if !errors.Is(err, services.ErrInternal) {
			log.Error().Err(err).Str("component", "http").Str("path", c.FullPath()).Msg("unhandled error")
		}
		fail(c, http.StatusInternalServerError, "Something went wrong. Please try again later.")
	}
}

func deviceMeta(c *gin.Context) models.DeviceMeta {
	return models.DeviceMeta{
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		DeviceName: strings.TrimSpace(c.GetHeader("X-Device-Name")),
	}
}

// CookieSettings controls the auth cookies of the web surface.
type CookieSettings struct {
	Domain string
	Secure bool
}

func (s CookieSettings) set(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, int(ttl/time.Second), "/", s.Domain, s.Secure, true)
}

func (s CookieSettings) clear(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, "", -1, "/", s.Domain, s.Secure, true)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "Invalid id.")
		return 0, false
	}
	return id, true
}
