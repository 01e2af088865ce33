package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"invento/internal/authz"
	"invento/internal/handlers"
	"invento/internal/middleware"
)

// Limits are requests per minute per client IP.
type Limits struct {
	Register int
	Login    int
	Refresh  int
}

// Surface bundles the handlers of one client family.
type Surface struct {
	Auth     *handlers.AuthHandler
	Sessions *handlers.SessionHandler
	Users    *handlers.UserHandler
	Resets   *handlers.PasswordResetHandler
	// Staff enables the staff management group (web only).
	Staff bool
}

type Deps struct {
	Web      Surface
	Mobile   Surface
	Auth     middleware.Authenticator
	Accounts middleware.AccountResolver
	Limiter  middleware.Limiter
	Limits   Limits
	Swagger  bool
}

func SetupRoutes(r *gin.Engine, d Deps) *gin.Engine {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": true, "message": "ok"})
	})
	if d.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api")
	mount(api.Group("/web"), d.Web, "web", d)
	mount(api.Group("/mobile"), d.Mobile, "mobile", d)
	return r
}

func mount(g *gin.RouterGroup, s Surface, name string, d Deps) {
	// ---- public
	g.POST("/register", middleware.RateLimit(d.Limiter, name+":register", d.Limits.Register), s.Auth.Register)
	g.POST("/login", middleware.RateLimit(d.Limiter, name+":login", d.Limits.Login), s.Auth.Login)
	g.POST("/two-factor/verify", middleware.RateLimit(d.Limiter, name+":2fa", d.Limits.Login), s.Auth.VerifyTwoFactor)
	g.POST("/refresh", middleware.RateLimit(d.Limiter, name+":refresh", d.Limits.Refresh), s.Auth.Refresh)
	g.POST("/forgot-password", middleware.RateLimit(d.Limiter, name+":forgot", d.Limits.Register), s.Resets.Forgot)
	g.POST("/reset-password", middleware.RateLimit(d.Limiter, name+":reset", d.Limits.Login), s.Resets.Reset)

	// ---- protected
	p := g.Group("", middleware.AuthMiddleware(d.Auth, d.Accounts))
	p.POST("/logout", s.Auth.Logout)
	p.POST("/logout-all", s.Auth.LogoutAll)
	p.GET("/sessions", s.Sessions.List)
	p.DELETE("/sessions/:id", s.Sessions.Destroy)

	p.GET("/profile", s.Users.Profile)
	p.POST("/password", s.Users.ChangePassword)
	p.POST("/two-factor/enable", s.Users.EnableTwoFactor)
	p.POST("/two-factor/disable", s.Users.DisableTwoFactor)
	p.POST("/two-factor/recovery-codes", s.Users.RegenerateRecoveryCodes)

	if !s.Staff {
		return
	}
	// STAFF (agency and its admins)
	staff := p.Group("/users", middleware.RequireRoles(authz.RoleAgency, authz.RoleAdmin), middleware.RequireAccount())
	{
		staff.GET("/trashed", s.Users.ListTrashed)
		staff.DELETE("/:id", s.Users.Trash)
		staff.POST("/:id/restore", s.Users.Restore)
		staff.DELETE("/:id/force", s.Users.ForceDelete)
		staff.PATCH("/:id/status", s.Users.SetStatus)
	}
}
