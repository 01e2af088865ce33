package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/services"
)

// Context keys set by AuthMiddleware.
const (
	CtxUserID  = "user_id"
	CtxRole    = "role"
	CtxTokenID = "token_id"
	CtxUser    = "user"
	CtxAccount = "account"
)

// AccessCookie is the cookie the web surface carries the access token in.
const AccessCookie = "access_token"

// Authenticator validates a raw access token.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*services.AccessClaims, *models.User, error)
}

// AccountResolver maps a user to the tenant account it acts for.
type AccountResolver interface {
	ActingAccount(ctx context.Context, user *models.User) (*models.User, error)
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"status": false, "message": msg})
}

// bearerToken reads the Authorization header, falling back to the cookie.
func bearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if v, err := c.Cookie(AccessCookie); err == nil {
		return v
	}
	return ""
}

// AuthMiddleware authenticates the request and resolves the acting account
// once, so handlers and services receive it explicitly.
func AuthMiddleware(auth Authenticator, accounts AccountResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, "Unauthenticated.")
			return
		}

		claims, user, err := auth.Authenticate(c.Request.Context(), raw)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrAccessTokenExpired):
			abort(c, http.StatusUnauthorized, "Token expired.")
			return
		case errors.Is(err, services.ErrAccountInactive):
			abort(c, http.StatusForbidden, "Your account is inactive. Please contact support.")
			return
		case errors.Is(err, services.ErrInvalidAccessToken):
			abort(c, http.StatusUnauthorized, "Unauthenticated.")
			return
		default:
			log.Error().Err(err).Str("component", "auth").Str("op", "middleware").Msg("authenticate failed")
			abort(c, http.StatusInternalServerError, "Something went wrong. Please try again later.")
			return
		}

		account, err := accounts.ActingAccount(c.Request.Context(), user)
		if err != nil {
			log.Error().Err(err).Str("component", "auth").Int64("user_id", user.ID).Msg("resolve acting account failed")
			abort(c, http.StatusInternalServerError, "Something went wrong. Please try again later.")
			return
		}

		c.Set(CtxUserID, user.ID)
		c.Set(CtxRole, user.Role)
		c.Set(CtxTokenID, claims.ID)
		c.Set(CtxUser, user)
		if account != nil {
			c.Set(CtxAccount, account)
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(CtxUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// CurrentAccount is the acting tenant account, nil for roles without one.
func CurrentAccount(c *gin.Context) *models.User {
	v, ok := c.Get(CtxAccount)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func CurrentTokenID(c *gin.Context) string {
	return c.GetString(CtxTokenID)
}
