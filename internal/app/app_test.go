package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"invento/internal/authz"
	"invento/internal/config"
	"invento/internal/middleware"
	"invento/internal/models"
	"invento/internal/repositories/memstore"
	"invento/internal/services"
)

const password = "correct-horse-battery"

type outbox struct {
	mu       sync.Mutex
	codes    []string
	recovery map[string][]string
	resets   map[string]string
}

func (o *outbox) TwoFactorCode(_ context.Context, _ *models.User, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, code)
	return nil
}

func (o *outbox) RecoveryCodes(_ context.Context, user *models.User, codes []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recovery[user.Email] = codes
	return nil
}

func (o *outbox) PasswordChanged(context.Context, *models.User) error { return nil }

func (o *outbox) PasswordReset(_ context.Context, user *models.User, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[user.Email] = token
	return nil
}

type testApp struct {
	router *gin.Engine
	store  *memstore.Store
	hasher services.PasswordHasher
	mail   *outbox
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "invento"
	cfg.App.Env = "test"
	cfg.App.Key = "0123456789abcdef-app-key"
	cfg.Security = config.SecurityConfig{
		JWTSecret:       "jwt-secret-0123456789abcdef",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		TwoFactorTTL:    10 * time.Minute,
		MaxSessions:     3,
		RecoveryCodes:   8,
		Lockout: config.LockoutConfig{
			DeviceThreshold: 5,
			DeviceDurations: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, time.Hour},
			IPThreshold:     20,
			IPDuration:      30 * time.Minute,
		},
	}
	return cfg
}

func newTestApp(t *testing.T, mutate ...func(cfg *config.Config)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	a := &testApp{
		store:  memstore.New(),
		hasher: services.NewBcryptHasher(bcrypt.MinCost),
		mail:   &outbox{recovery: map[string][]string{}, resets: map[string]string{}},
	}
	router, err := NewRouter(cfg, Deps{
		Store:     a.store,
		Hasher:    a.hasher,
		Notifiers: services.Notifiers{a.mail},
		Limiter:   middleware.NewMemoryLimiter(),
	})
	require.NoError(t, err)
	a.router = router
	return a
}

func (a *testApp) seed(t *testing.T, email, role string, mutate ...func(u *models.User)) *models.User {
	t.Helper()
	hash, err := a.hasher.Hash(password)
	require.NoError(t, err)
	u := &models.User{Name: "User", Email: email, PasswordHash: hash, Role: role, Status: models.StatusActive}
	for _, m := range mutate {
		m(u)
	}
	require.NoError(t, a.store.Users().Create(context.Background(), u))
	return u
}

type envelope struct {
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Data    map[string]any    `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type reqOpt func(r *http.Request)

func withCookies(cookies ...*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func withBearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (a *testApp) do(t *testing.T, method, path string, body any, opts ...reqOpt) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Device-Name", "Test Device")
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func cookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func login(email string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t)
	w, env := a.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Status)
}

func TestNewRouterRequiresStore(t *testing.T) {
	_, err := NewRouter(testConfig(), Deps{})
	require.Error(t, err)
}

func TestWebFlow(t *testing.T) {
	a := newTestApp(t)

	w, env := a.do(t, http.MethodPost, "/api/web/register", map[string]string{
		"name": "Acme", "email": "owner@acme.test", "password": password,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "Registration completed successfully.", env.Message)
	require.Len(t, a.mail.recovery["owner@acme.test"], 8)

	w, env = a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotContains(t, env.Data, "access_token")
	access := cookie(t, w, "access_token")
	refresh := cookie(t, w, "refresh_token")
	require.True(t, access.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, access.SameSite)
	require.Equal(t, "/", refresh.Path)
	require.Len(t, refresh.Value, 64)

	w, env = a.do(t, http.MethodGet, "/api/web/sessions", nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessions, ok := env.Data["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	require.Equal(t, "Test Device", sessions[0].(map[string]any)["device_name"])

	w, env = a.do(t, http.MethodGet, "/api/web/profile", nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.EqualValues(t, 8, env.Data["recovery_codes_remaining"])

	w, _ = a.do(t, http.MethodPost, "/api/web/refresh", nil, withCookies(refresh))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newAccess := cookie(t, w, "access_token")
	newRefresh := cookie(t, w, "refresh_token")
	require.NotEqual(t, refresh.Value, newRefresh.Value)

	// the rotated-out refresh token is dead and the cookies are cleared
	w, _ = a.do(t, http.MethodPost, "/api/web/refresh", nil, withCookies(refresh))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, -1, cookie(t, w, "refresh_token").MaxAge)

	w, _ = a.do(t, http.MethodPost, "/api/web/logout", nil, withCookies(newAccess, newRefresh))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, -1, cookie(t, w, "access_token").MaxAge)

	w, env = a.do(t, http.MethodGet, "/api/web/sessions", nil, withCookies(newAccess))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Unauthenticated.", env.Message)

	// the first access token was never revoked by logout of the second
	w, env = a.do(t, http.MethodGet, "/api/web/sessions", nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, env.Data["sessions"])
}

func TestPostmanGetsAccessTokenInBody(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "owner@acme.test", authz.RoleAgency)

	w, env := a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"), func(r *http.Request) {
		r.Header.Set("User-Agent", "PostmanRuntime/7.36.0")
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, env.Data["access_token"])
}

func TestValidationErrorsAreFlattened(t *testing.T) {
	a := newTestApp(t)

	w, env := a.do(t, http.MethodPost, "/api/web/login", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.False(t, env.Status)
	require.Equal(t, "The given data was invalid.", env.Message)
	require.Equal(t, map[string]string{
		"email":    "The email field is required.",
		"password": "The password field is required.",
	}, env.Errors)

	_, env = a.do(t, http.MethodPost, "/api/web/register", map[string]string{
		"name": "Acme", "email": "not-an-email", "password": "short",
	})
	require.Equal(t, "The email must be a valid email address.", env.Errors["email"])
	require.Equal(t, "The password must be at least 8 characters.", env.Errors["password"])
}

func TestLockoutReturns423(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "owner@acme.test", authz.RoleAgency)

	for i := 0; i < 5; i++ {
		w, env := a.do(t, http.MethodPost, "/api/web/login", map[string]string{"email": "owner@acme.test", "password": "nope"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "Invalid email or password.", env.Message)
	}
	w, env := a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
	require.Equal(t, http.StatusLocked, w.Code)
	require.Contains(t, env.Message, "Too many failed attempts on this device")

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.InDelta(t, 60, retry, 1)
}

func TestMobileSurface(t *testing.T) {
	a := newTestApp(t)
	agency := a.seed(t, "owner@acme.test", authz.RoleAgency)
	a.seed(t, "rep@acme.test", authz.RoleSalesman, func(u *models.User) { u.AgencyID = &agency.ID })

	w, env := a.do(t, http.MethodPost, "/api/mobile/login", login("owner@acme.test"))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "You are not authorized to access this system.", env.Message)

	w, env = a.do(t, http.MethodPost, "/api/mobile/login", login("rep@acme.test"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Empty(t, w.Result().Cookies())
	require.Equal(t, "Bearer", env.Data["token_type"])
	require.EqualValues(t, 900, env.Data["expires_in"])
	access := env.Data["access_token"].(string)
	refresh := env.Data["refresh_token"].(string)

	w, env = a.do(t, http.MethodPost, "/api/mobile/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEqual(t, refresh, env.Data["refresh_token"])

	w, _ = a.do(t, http.MethodPost, "/api/mobile/logout-all", nil, withBearer(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = a.do(t, http.MethodGet, "/api/mobile/sessions", nil, withBearer(access))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// staff management is a web-only group
	w, _ = a.do(t, http.MethodGet, "/api/mobile/users/trashed", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTwoFactorOverHTTP(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "owner@acme.test", authz.RoleAgency, func(u *models.User) { u.TwoFactorEnabled = true })

	w, env := a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2FA verification code sent to your email.", env.Message)
	require.Equal(t, true, env.Data["two_factor_required"])
	require.Empty(t, w.Result().Cookies())
	require.Len(t, a.mail.codes, 1)

	w, env = a.do(t, http.MethodPost, "/api/web/two-factor/verify", map[string]string{"email": "owner@acme.test"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, env.Errors, "code")

	w, _ = a.do(t, http.MethodPost, "/api/web/two-factor/verify", map[string]string{
		"email": "owner@acme.test", "code": a.mail.codes[0],
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, cookie(t, w, "access_token").Value)
}

func TestSessionDeleteIsScopedToOwner(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "alice@acme.test", authz.RoleAgency)
	a.seed(t, "bob@acme.test", authz.RoleAgency)

	w, _ := a.do(t, http.MethodPost, "/api/web/login", login("alice@acme.test"))
	aliceAccess := cookie(t, w, "access_token")
	w, _ = a.do(t, http.MethodPost, "/api/web/login", login("bob@acme.test"))
	bobAccess := cookie(t, w, "access_token")

	_, env := a.do(t, http.MethodGet, "/api/web/sessions", nil, withCookies(aliceAccess))
	id := int64(env.Data["sessions"].([]any)[0].(map[string]any)["id"].(float64))
	path := "/api/web/sessions/" + strconv.FormatInt(id, 10)

	w, env = a.do(t, http.MethodDelete, path, nil, withCookies(bobAccess))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "Session not found.", env.Message)

	w, env = a.do(t, http.MethodDelete, path, nil, withCookies(aliceAccess))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Session terminated", env.Message)

	w, _ = a.do(t, http.MethodDelete, "/api/web/sessions/abc", nil, withCookies(aliceAccess))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStaffEndpoints(t *testing.T) {
	a := newTestApp(t)
	agency := a.seed(t, "owner@acme.test", authz.RoleAgency)
	rep := a.seed(t, "rep@acme.test", authz.RoleSalesman, func(u *models.User) { u.AgencyID = &agency.ID })
	a.seed(t, "admin@acme.test", authz.RoleAdmin, func(u *models.User) { u.AgencyID = &agency.ID })

	w, _ := a.do(t, http.MethodPost, "/api/web/login", login("admin@acme.test"))
	require.Equal(t, http.StatusOK, w.Code)
	access := cookie(t, w, "access_token")
	repPath := "/api/web/users/" + strconv.FormatInt(rep.ID, 10)

	w, env := a.do(t, http.MethodPatch, repPath+"/status", map[string]string{"status": "gone"}, withCookies(access))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "The selected status is invalid.", env.Errors["status"])

	w, _ = a.do(t, http.MethodPatch, repPath+"/status", map[string]string{"status": "inactive"}, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = a.do(t, http.MethodDelete, repPath, nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = a.do(t, http.MethodGet, "/api/web/users/trashed", nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.Data["users"], 1)

	w, _ = a.do(t, http.MethodPost, repPath+"/restore", nil, withCookies(access))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLoginRateLimit(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.Security.RateLimit.Login = 2 })
	a.seed(t, "owner@acme.test", authz.RoleAgency)

	for i := 0; i < 2; i++ {
		w, _ := a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, env := a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "Too many requests. Please try again later.", env.Message)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestPasswordResetOverHTTP(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "owner@acme.test", authz.RoleAgency)

	w, env := a.do(t, http.MethodPost, "/api/web/forgot-password", map[string]string{"email": "nobody@acme.test"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "If the email exists, a reset link has been sent.", env.Message)
	require.Empty(t, a.mail.resets)

	w, _ = a.do(t, http.MethodPost, "/api/mobile/forgot-password", map[string]string{"email": "owner@acme.test"})
	require.Equal(t, http.StatusOK, w.Code)
	token := a.mail.resets["owner@acme.test"]
	require.NotEmpty(t, token)

	w, env = a.do(t, http.MethodPost, "/api/web/reset-password", map[string]string{"token": token, "password": "short"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "The password must be at least 8 characters.", env.Errors["password"])

	w, _ = a.do(t, http.MethodPost, "/api/web/reset-password", map[string]string{"token": token, "password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = a.do(t, http.MethodPost, "/api/web/reset-password", map[string]string{"token": token, "password": "brand-new-pass"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, env.Errors, "token")

	w, _ = a.do(t, http.MethodPost, "/api/web/login", map[string]string{"email": "owner@acme.test", "password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOverlongPasswordsAreRejected(t *testing.T) {
	a := newTestApp(t)
	long := strings.Repeat("a", 80)
	// 40 characters, 80 bytes: fits the request limit, not bcrypt's
	wide := strings.Repeat("é", 40)

	w, env := a.do(t, http.MethodPost, "/api/web/register", map[string]string{
		"name": "Acme", "email": "owner@acme.test", "password": long,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Equal(t, "The password may not be greater than 72 characters.", env.Errors["password"])

	w, env = a.do(t, http.MethodPost, "/api/web/register", map[string]string{
		"name": "Acme", "email": "owner@acme.test", "password": wide,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Equal(t, "The password may not be greater than 72 bytes.", env.Errors["password"])

	a.seed(t, "owner@acme.test", authz.RoleAgency)
	w, _ = a.do(t, http.MethodPost, "/api/web/login", login("owner@acme.test"))
	require.Equal(t, http.StatusOK, w.Code)
	access := cookie(t, w, "access_token")

	for _, next := range []string{long, wide} {
		w, env = a.do(t, http.MethodPost, "/api/web/password", map[string]string{
			"current_password": password, "new_password": next,
		}, withCookies(access))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		require.Contains(t, env.Errors, "new_password")
	}

	w, _ = a.do(t, http.MethodPost, "/api/web/forgot-password", map[string]string{"email": "owner@acme.test"})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = a.do(t, http.MethodPost, "/api/web/reset-password", map[string]string{
		"token": a.mail.resets["owner@acme.test"], "password": wide,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Contains(t, env.Errors, "password")
}
