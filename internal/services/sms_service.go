package services

import (
	"context"
	"fmt"

	"invento/internal/models"
	"invento/internal/utils"
)

// SMSSender is satisfied by *utils.Client (Mobizon).
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) (*utils.SendSMSResponse, error)
}

// smsService sends the 2FA code to users that have a phone on file.
// Recovery codes and notices are email only.
type smsService struct {
	client  SMSSender
	appName string
}

func NewSMSService(client SMSSender, appName string) Notifier {
	return &smsService{client: client, appName: appName}
}

func (s *smsService) TwoFactorCode(ctx context.Context, user *models.User, code string) error {
	if user.Phone == "" {
		return nil
	}
	text := fmt.Sprintf("%s code: %s", s.appName, code)
	if _, err := s.client.SendSMS(ctx, user.Phone, text); err != nil {
		return fmt.Errorf("mobizon error: %w", err)
	}
	return nil
}

func (s *smsService) RecoveryCodes(context.Context, *models.User, []string) error { return nil }

// PasswordReset is email only.
func (s *smsService) PasswordReset(context.Context, *models.User, string) error { return nil }

func (s *smsService) PasswordChanged(ctx context.Context, user *models.User) error {
	if user.Phone == "" {
		return nil
	}
	if _, err := s.client.SendSMS(ctx, user.Phone, s.appName+": your password was changed."); err != nil {
		return fmt.Errorf("mobizon error: %w", err)
	}
	return nil
}
