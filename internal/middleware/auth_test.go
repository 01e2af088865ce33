package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"invento/internal/authz"
	"invento/internal/models"
	"invento/internal/services"
)

type fakeAuth struct {
	user *models.User
	err  error
	seen string
}

func (f *fakeAuth) Authenticate(_ context.Context, raw string) (*services.AccessClaims, *models.User, error) {
	f.seen = raw
	if f.err != nil {
		return nil, nil, f.err
	}
	return &services.AccessClaims{UserID: f.user.ID, RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1"}}, f.user, nil
}

type fakeAccounts struct {
	account *models.User
}

func (f fakeAccounts) ActingAccount(context.Context, *models.User) (*models.User, error) {
	return f.account, nil
}

func protectedRouter(auth Authenticator, accounts AccountResolver, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(auth, accounts)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user":        CurrentUser(c).ID,
			"token":       CurrentTokenID(c),
			"has_account": CurrentAccount(c) != nil,
		})
	})
	r.GET("/me", handlers...)
	return r
}

func get(r *gin.Engine, mutate func(req *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareReadsHeaderThenCookie(t *testing.T) {
	auth := &fakeAuth{user: &models.User{ID: 5, Role: authz.RoleAgency}}
	r := protectedRouter(auth, fakeAccounts{})

	w := get(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer header-token") })
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "header-token", auth.seen)
	require.JSONEq(t, `{"user":5,"token":"jti-1","has_account":false}`, w.Body.String())

	w = get(r, func(req *http.Request) { req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie-token"}) })
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "cookie-token", auth.seen)

	w = get(r, func(req *http.Request) { req.Header.Set("Authorization", "Basic abc") })
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"status":false,"message":"Unauthenticated."}`, w.Body.String())
}

func TestAuthMiddlewareMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{services.ErrAccessTokenExpired, http.StatusUnauthorized, "Token expired."},
		{services.ErrInvalidAccessToken, http.StatusUnauthorized, "Unauthenticated."},
		{services.ErrAccountInactive, http.StatusForbidden, "Your account is inactive. Please contact support."},
		{errors.New("db down"), http.StatusInternalServerError, "Something went wrong. Please try again later."},
	}
	for _, tc := range cases {
		r := protectedRouter(&fakeAuth{err: tc.err}, fakeAccounts{})
		w := get(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer x") })
		require.Equal(t, tc.code, w.Code, tc.err.Error())
		require.Contains(t, w.Body.String(), tc.msg)
	}
}

func TestRequireRolesAndAccount(t *testing.T) {
	agency := &models.User{ID: 1, Role: authz.RoleAgency}
	sales := &models.User{ID: 2, Role: authz.RoleSalesman}
	bearer := func(req *http.Request) { req.Header.Set("Authorization", "Bearer x") }

	r := protectedRouter(&fakeAuth{user: sales}, fakeAccounts{account: agency}, RequireRoles(authz.RoleAgency, authz.RoleAdmin))
	require.Equal(t, http.StatusForbidden, get(r, bearer).Code)

	r = protectedRouter(&fakeAuth{user: agency}, fakeAccounts{}, RequireRoles(authz.RoleAgency), RequireAccount())
	require.Equal(t, http.StatusForbidden, get(r, bearer).Code)

	r = protectedRouter(&fakeAuth{user: agency}, fakeAccounts{account: agency}, RequireRoles(authz.RoleAgency), RequireAccount())
	w := get(r, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"has_account":true`)
}
