package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"invento/internal/models"
	"invento/internal/pdf"
)

// MailSender is satisfied by *gomail.Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type emailService struct {
	sender  MailSender
	from    string
	appName string
	sheets  pdf.Generator
}

func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail, appName string, sheets pdf.Generator) Notifier {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return NewEmailServiceWithSender(dialer, fromEmail, appName, sheets)
}

func NewEmailServiceWithSender(sender MailSender, fromEmail, appName string, sheets pdf.Generator) Notifier {
	return &emailService{sender: sender, from: fromEmail, appName: appName, sheets: sheets}
}

func (s *emailService) message(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	return m
}

func (s *emailService) TwoFactorCode(_ context.Context, user *models.User, code string) error {
	body := fmt.Sprintf(`
		<h3>Your verification code</h3>
		<p>Hello %s,</p>
		<p>Use this code to finish signing in: <strong>%s</strong></p>
		<p>The code expires in 10 minutes. If this was not you, change your password.</p>
	`, html.EscapeString(user.Name), code)

	if err := s.sender.DialAndSend(s.message(user.Email, s.appName+" verification code", body)); err != nil {
		return fmt.Errorf("failed to send 2fa email: %w", err)
	}
	return nil
}

func (s *emailService) RecoveryCodes(_ context.Context, user *models.User, codes []string) error {
	var list strings.Builder
	for _, c := range codes {
		list.WriteString("<li><code>" + c + "</code></li>")
	}
	body := fmt.Sprintf(`
		<h2>Welcome to %s, %s!</h2>
		<p>Your account has been created. These recovery codes let you sign in when a verification code cannot reach you.</p>
		<ol>%s</ol>
		<p>Each code works once. They are attached as a PDF and will not be shown again.</p>
	`, html.EscapeString(s.appName), html.EscapeString(user.Name), list.String())

	m := s.message(user.Email, s.appName+" recovery codes", body)
	if s.sheets != nil {
		var buf bytes.Buffer
		err := s.sheets.RecoveryCodes(&buf, pdf.RecoverySheetData{
			Name: user.Name, Email: user.Email, Codes: codes, CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		m.Attach("recovery-codes.pdf", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(buf.Bytes())
			return err
		}))
	}
	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send recovery codes email: %w", err)
	}
	return nil
}

func (s *emailService) PasswordChanged(_ context.Context, user *models.User) error {
	body := fmt.Sprintf(`
		<h3>Password changed</h3>
		<p>Hello %s,</p>
		<p>The password for your account was changed and every device has been signed out.</p>
		<p>If you did not make this change, contact support immediately.</p>
	`, html.EscapeString(user.Name))

	if err := s.sender.DialAndSend(s.message(user.Email, s.appName+" password changed", body)); err != nil {
		return fmt.Errorf("failed to send password changed email: %w", err)
	}
	return nil
}

func (s *emailService) PasswordReset(_ context.Context, user *models.User, token string) error {
	body := fmt.Sprintf(`
		<h3>Password reset requested</h3>
		<p>We received a request to reset the password for your account.</p>
		<p>Use the following token to reset your password: <strong>%s</strong></p>
		<p>If you did not request this change, you can ignore this email.</p>
	`, html.EscapeString(token))

	if err := s.sender.DialAndSend(s.message(user.Email, s.appName+" password reset", body)); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}
