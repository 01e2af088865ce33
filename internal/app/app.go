package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "invento/docs"
	"invento/internal/authz"
	"invento/internal/config"
	"invento/internal/handlers"
	"invento/internal/middleware"
	"invento/internal/pdf"
	"invento/internal/repositories"
	"invento/internal/repositories/memstore"
	"invento/internal/routes"
	"invento/internal/services"
	"invento/internal/utils"
)

// Deps is the infrastructure the router is built on. Nil fields get the
// config driven default in Run; NewRouter only needs Store.
type Deps struct {
	Store     repositories.Store
	Hasher    services.PasswordHasher
	Notifiers services.Notifiers
	Limiter   middleware.Limiter
	Alerter   services.LockAlerter
	Geo       services.GeoLocator
}

// SetupLogger configures the global zerolog logger.
func SetupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsLocal() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	gin.SetMode(gin.ReleaseMode)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// NewRouter wires services, handlers and routes.
func NewRouter(cfg *config.Config, d Deps) (*gin.Engine, error) {
	if d.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if d.Hasher == nil {
		d.Hasher = services.NewBcryptHasher(0)
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewMemoryLimiter()
	}

	enc, err := utils.NewEncrypter(cfg.App.Key)
	if err != nil {
		return nil, fmt.Errorf("encrypter: %w", err)
	}

	sec := cfg.Security
	policy := services.LockoutPolicy{
		DeviceThreshold: sec.Lockout.DeviceThreshold,
		DeviceDurations: sec.Lockout.DeviceDurations,
		IPThreshold:     sec.Lockout.IPThreshold,
		IPDuration:      sec.Lockout.IPDuration,
	}

	// === Services ===
	tracker := services.NewAttemptTracker(d.Store, policy, d.Alerter)
	tokenService := services.NewTokenService(sec.JWTSecret, sec.AccessTokenTTL, sec.RefreshTokenTTL, enc)
	sessionService := services.NewSessionService(d.Store, sec.MaxSessions, sec.RefreshTokenTTL, d.Geo, cfg.IsLocal())
	twoFactorService := services.NewTwoFactorService(d.Store, d.Hasher, enc, d.Notifiers, sec.TwoFactorTTL, sec.RecoveryCodes)
	authService := services.NewAuthService(d.Store, d.Hasher, tracker, tokenService, sessionService, twoFactorService, d.Notifiers)
	userService := services.NewUserService(d.Store, d.Hasher, d.Notifiers)
	resetService := services.NewPasswordResetService(d.Store, d.Hasher, d.Notifiers, sec.ResetTokenTTL)

	// === Handlers ===
	cookies := handlers.CookieSettings{Domain: sec.Cookie.Domain, Secure: sec.Cookie.IsSecure()}
	web := routes.Surface{
		Auth:     handlers.NewAuthHandler(authService, authz.SurfaceWeb, cookies, sec.AccessTokenTTL, sec.RefreshTokenTTL),
		Sessions: handlers.NewSessionHandler(sessionService),
		Users:    handlers.NewUserHandler(userService, twoFactorService, cookies, true),
		Resets:   handlers.NewPasswordResetHandler(resetService),
		Staff:    true,
	}
	mobile := routes.Surface{
		Auth:     handlers.NewAuthHandler(authService, authz.SurfaceMobile, cookies, sec.AccessTokenTTL, sec.RefreshTokenTTL),
		Sessions: web.Sessions,
		Users:    handlers.NewUserHandler(userService, twoFactorService, cookies, false),
		Resets:   web.Resets,
	}

	// === Gin ===
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())

	routes.SetupRoutes(router, routes.Deps{
		Web:      web,
		Mobile:   mobile,
		Auth:     authService,
		Accounts: userService,
		Limiter:  d.Limiter,
		Limits: routes.Limits{
			Register: sec.RateLimit.Register,
			Login:    sec.RateLimit.Login,
			Refresh:  sec.RateLimit.Refresh,
		},
		Swagger: cfg.IsLocal(),
	})
	return router, nil
}

// Run loads the config, connects the infrastructure and serves until
// SIGINT/SIGTERM.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	SetupLogger(cfg)

	var deps Deps
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	// === DB ===
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		deps.Store = memstore.New()
	default:
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		closers = append(closers, db.Close)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		deps.Store = repositories.NewStore(db)
	}

	// === Redis (edge rate limits) ===
	if rl := cfg.Security.RateLimit; rl.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: rl.RedisAddr, Password: rl.RedisPassword, DB: rl.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", rl.RedisAddr).Msg("redis unavailable, using in-process rate limiter")
			_ = rdb.Close()
		} else {
			closers = append(closers, rdb.Close)
			deps.Limiter = middleware.NewRedisLimiter(rdb, cfg.App.Name+":ratelimit")
		}
	}

	// === Notifications ===
	if cfg.Email.SMTPHost != "" {
		sheets := pdf.NewSheetGenerator(cfg.Files.FontPath, cfg.App.Name)
		deps.Notifiers = append(deps.Notifiers, services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
			cfg.App.Name,
			sheets,
		))
	} else {
		log.Warn().Msg("email.smtp_host is empty, email notifications are disabled")
	}
	mobizon := utils.NewClientWithOptions(cfg.Mobizon.APIKey, cfg.Mobizon.SenderID, cfg.Mobizon.DryRun)
	deps.Notifiers = append(deps.Notifiers, services.NewSMSService(mobizon, cfg.App.Name))

	alerter, err := services.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.AlertChat, cfg.Telegram.APIEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("telegram alerts disabled")
	} else if alerter != nil {
		deps.Alerter = alerter
	}

	if geo := services.NewGeoLocator(cfg.GeoIP.BaseURL, cfg.GeoIP.Timeout); geo != nil {
		deps.Geo = geo
	}

	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}

	// === Run ===
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.App.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Device-Name")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
