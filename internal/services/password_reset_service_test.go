package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"invento/internal/authz"
	"invento/internal/models"
	"invento/internal/utils"
)

func requireInvalidToken(t *testing.T, err error) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.Equal(t, "The reset token is invalid or has expired.", verr.Fields["token"])
}

func TestRequestResetIsSilentForUnknownAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "gone@example.com", authz.RoleAgency, func(u *models.User) { u.Status = models.StatusInactive })

	require.NoError(t, f.resets.RequestReset(ctx, "nobody@example.com"))
	require.NoError(t, f.resets.RequestReset(ctx, "gone@example.com"))
	require.Empty(t, f.notes.resets)
}

func TestResetPasswordSignsOutAndBurnsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedAgency(t, "owner@example.com")

	login, err := f.auth.Login(ctx, authz.SurfaceWeb, "owner@example.com", testPassword, device("192.0.2.60"))
	require.NoError(t, err)

	require.NoError(t, f.resets.RequestReset(ctx, "  Owner@Example.com "))
	token := f.notes.resets[user.ID]
	require.Len(t, token, 64)

	stored, err := f.store.PasswordResets().GetByTokenHashForUpdate(ctx, utils.HashToken(token))
	require.NoError(t, err)
	require.NotEqual(t, token, stored.TokenHash)
	require.Equal(t, f.clock.Now().Add(time.Hour), stored.ExpiresAt)

	require.NoError(t, f.resets.ResetPassword(ctx, token, "brand-new-pass"))
	require.Equal(t, []int64{user.ID}, f.notes.passwords)
	require.Equal(t, 0, f.store.TokenCount(user.ID))
	_, err = f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	requireInvalidToken(t, f.resets.ResetPassword(ctx, token, "another-pass-1"))

	_, err = f.auth.Login(ctx, authz.SurfaceWeb, "owner@example.com", "brand-new-pass", device("192.0.2.60"))
	require.NoError(t, err)
}

func TestNewResetRequestReplacesOldToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedAgency(t, "owner@example.com")

	require.NoError(t, f.resets.RequestReset(ctx, "owner@example.com"))
	first := f.notes.resets[user.ID]
	require.NoError(t, f.resets.RequestReset(ctx, "owner@example.com"))
	second := f.notes.resets[user.ID]
	require.NotEqual(t, first, second)

	requireInvalidToken(t, f.resets.ResetPassword(ctx, first, "brand-new-pass"))
	require.NoError(t, f.resets.ResetPassword(ctx, second, "brand-new-pass"))
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedAgency(t, "owner@example.com")

	require.NoError(t, f.resets.RequestReset(ctx, "owner@example.com"))
	f.clock.Advance(time.Hour)

	requireInvalidToken(t, f.resets.ResetPassword(ctx, f.notes.resets[user.ID], "brand-new-pass"))
	requireInvalidToken(t, f.resets.ResetPassword(ctx, "   ", "brand-new-pass"))
	requireInvalidToken(t, f.resets.ResetPassword(ctx, "deadbeef", "brand-new-pass"))
}

func TestResetPasswordRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedAgency(t, "owner@example.com")
	require.NoError(t, f.resets.RequestReset(ctx, "owner@example.com"))
	token := f.notes.resets[user.ID]

	f.store.FailOn("sessions.DeleteAllForUser", errors.New("disk full"))
	require.ErrorIs(t, f.resets.ResetPassword(ctx, token, "brand-new-pass"), ErrInternal)
	f.store.FailOn("sessions.DeleteAllForUser", nil)

	stored, err := f.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, f.hasher.Check(stored.PasswordHash, testPassword))
	require.Empty(t, f.notes.passwords)

	require.NoError(t, f.resets.ResetPassword(ctx, token, "brand-new-pass"))
}
