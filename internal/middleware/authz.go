package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RequireRoles(allowed ...string) gin.HandlerFunc {
	allowedSet := map[string]struct{}{}
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		if role == "" {
			abort(c, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		if _, ok := allowedSet[role]; !ok {
			abort(c, http.StatusForbidden, "You are not authorized to access this resource.")
			return
		}
		c.Next()
	}
}

// RequireAccount rejects users that resolve to no tenant account.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentAccount(c) == nil {
			abort(c, http.StatusForbidden, "No account is associated with this user.")
			return
		}
		c.Next()
	}
}
