package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/utils"
)

const defaultPasswordResetTTL = time.Hour

type PasswordResetService interface {
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type passwordResetService struct {
	store  repositories.Store
	hasher PasswordHasher
	notify Notifiers
	ttl    time.Duration
	now    func() time.Time
}

func NewPasswordResetService(store repositories.Store, hasher PasswordHasher, notify Notifiers, ttl time.Duration) PasswordResetService {
	if ttl <= 0 {
		ttl = defaultPasswordResetTTL
	}
	return &passwordResetService{store: store, hasher: hasher, notify: notify, ttl: ttl, now: time.Now}
}

// RequestReset mails a single-use token. Unknown and inactive accounts get
// the same silent success.
func (s *passwordResetService) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info().Str("component", "password_reset").Msg("reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive() {
		log.Info().Str("component", "password_reset").Int64("user_id", user.ID).Msg("reset requested for inactive account")
		return nil
	}

	token, err := utils.NewRefreshToken(32)
	if err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.PasswordResets().DeleteForUser(ctx, user.ID); err != nil {
			return err
		}
		return tx.PasswordResets().Create(ctx, &models.PasswordReset{
			UserID:    user.ID,
			TokenHash: utils.HashToken(token),
			ExpiresAt: s.now().Add(s.ttl),
		})
	})
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	s.notify.PasswordReset(ctx, user, token)
	return nil
}

// ResetPassword swaps the hash, burns the token and ends every session.
func (s *passwordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	invalid := fieldError("token", "The reset token is invalid or has expired.")
	if token == "" {
		return invalid
	}
	hash, err := hashPassword(s.hasher, "password", newPassword)
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var user *models.User
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		pr, err := tx.PasswordResets().GetByTokenHashForUpdate(ctx, utils.HashToken(token))
		if errors.Is(err, repositories.ErrNotFound) {
			return invalid
		}
		if err != nil {
			return err
		}
		if !pr.Usable(s.now()) {
			return invalid
		}
		u, err := tx.Users().GetByIDForUpdate(ctx, pr.UserID)
		if errors.Is(err, repositories.ErrNotFound) {
			return invalid
		}
		if err != nil {
			return err
		}
		if !u.IsActive() {
			return invalid
		}
		if err := tx.Users().UpdatePassword(ctx, u.ID, hash); err != nil {
			return err
		}
		if err := tx.PasswordResets().MarkUsed(ctx, pr.ID, s.now()); err != nil {
			return err
		}
		if _, err := tx.Sessions().DeleteAllForUser(ctx, u.ID); err != nil {
			return err
		}
		if _, err := tx.AccessTokens().DeleteAllForUser(ctx, u.ID); err != nil {
			return err
		}
		user = u
		return nil
	})
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if err != nil {
		log.Error().Err(err).Str("component", "password_reset").Msg("rolled back")
		return ErrInternal
	}
	log.Info().Str("component", "password_reset").Int64("user_id", user.ID).Msg("password reset")
	s.notify.PasswordChanged(ctx, user)
	return nil
}
