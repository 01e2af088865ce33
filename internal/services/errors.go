package services

import (
	"errors"
	"fmt"
	"time"
)

// Authorization: the account may not use this surface at all.
var (
	ErrRoleNotAllowed  = errors.New("role not allowed on this surface")
	ErrAccountInactive = errors.New("account inactive")
)

// Authentication: callers never learn which factor failed.
var (
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidTwoFactorCode = errors.New("invalid or expired two-factor code")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrRefreshTokenMissing  = errors.New("refresh token missing")
	ErrInvalidAccessToken   = errors.New("invalid access token")
	ErrAccessTokenExpired   = errors.New("access token expired")
)

// Not found for the authenticated owner.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Transient internal failures. The cause is logged; only the sentinel
// reaches the client.
var (
	ErrLoginFailed        = errors.New("login failed")
	ErrRegistrationFailed = errors.New("registration failed")
	ErrRefreshFailed      = errors.New("token refresh failed")
	ErrInternal           = errors.New("internal error")
)

// LockScope says which tracker produced a lock.
type LockScope string

const (
	LockDevice LockScope = "device"
	LockIP     LockScope = "ip"
)

// LockedError is returned while a device or IP is locked out.
type LockedError struct {
	Scope LockScope
	Until time.Time
	Now   time.Time
}

func (e *LockedError) RetryAfter() time.Duration {
	d := e.Until.Sub(e.Now)
	if d < 0 {
		return 0
	}
	return d
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s locked until %s", e.Scope, e.Until.Format(time.RFC3339))
}

// Message is the human readable text shown to the client.
func (e *LockedError) Message() string {
	what := "on this device"
	if e.Scope == LockIP {
		what = "from this IP"
	}
	return fmt.Sprintf("Too many failed attempts %s. Try again after %s.", what, HumanizeDuration(e.RetryAfter()))
}

// ValidationError carries field level messages, first error per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// HumanizeDuration renders a retry delay the way users read it:
// "1 minute from now", "30 minutes from now", "45 seconds from now".
func HumanizeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		secs := int(d.Round(time.Second) / time.Second)
		if secs <= 1 {
			return "1 second from now"
		}
		return fmt.Sprintf("%d seconds from now", secs)
	case d < time.Hour:
		mins := int((d + time.Minute - 1) / time.Minute)
		if mins == 1 {
			return "1 minute from now"
		}
		return fmt.Sprintf("%d minutes from now", mins)
	default:
		hours := int((d + time.Hour - 1) / time.Hour)
		if hours == 1 {
			return "1 hour from now"
		}
		return fmt.Sprintf("%d hours from now", hours)
	}
}
