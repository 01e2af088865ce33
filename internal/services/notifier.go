package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"invento/internal/models"
)

// Notifier delivers user facing messages. Every call is best effort: the
// caller has already committed and only logs a returned error.
type Notifier interface {
	TwoFactorCode(ctx context.Context, user *models.User, code string) error
	RecoveryCodes(ctx context.Context, user *models.User, codes []string) error
	PasswordChanged(ctx context.Context, user *models.User) error
	PasswordReset(ctx context.Context, user *models.User, token string) error
}

// Notifiers fans a message out to every channel.
type Notifiers []Notifier

func (n Notifiers) TwoFactorCode(ctx context.Context, user *models.User, code string) {
	n.each(ctx, "two_factor_code", user, func(x Notifier) error { return x.TwoFactorCode(ctx, user, code) })
}

func (n Notifiers) RecoveryCodes(ctx context.Context, user *models.User, codes []string) {
	n.each(ctx, "recovery_codes", user, func(x Notifier) error { return x.RecoveryCodes(ctx, user, codes) })
}

func (n Notifiers) PasswordChanged(ctx context.Context, user *models.User) {
	n.each(ctx, "password_changed", user, func(x Notifier) error { return x.PasswordChanged(ctx, user) })
}

func (n Notifiers) PasswordReset(ctx context.Context, user *models.User, token string) {
	n.each(ctx, "password_reset", user, func(x Notifier) error { return x.PasswordReset(ctx, user, token) })
}

func (n Notifiers) each(_ context.Context, kind string, user *models.User, fn func(Notifier) error) {
	for _, x := range n {
		if x == nil {
			continue
		}
		if err := fn(x); err != nil {
			log.Error().Err(err).Str("component", "notify").Str("kind", kind).Int64("user_id", user.ID).Msg("notification failed")
		}
	}
}
