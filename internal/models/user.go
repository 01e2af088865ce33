package models

import "time"

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type User struct {
	ID           int64   `json:"id"`
	AgencyID     *int64  `json:"agency_id,omitempty"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone,omitempty"`
	PasswordHash string  `json:"-"` // не отдаём наружу
	Role         string  `json:"role"`
	Status       string  `json:"status"`
	Timezone     string  `json:"timezone"`
	Language     string  `json:"language"`
	LastLoginIP  *string `json:"last_login_ip,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// 2FA: only the hash of the one-time code and ciphertexts of the
	// recovery codes are ever stored.
	TwoFactorEnabled    bool       `json:"two_factor_enabled"`
	TwoFactorVerified   bool       `json:"-"`
	TwoFactorSecret     *string    `json:"-"`
	TwoFactorCodeHash   *string    `json:"-"`
	TwoFactorExpiresAt  *time.Time `json:"-"`
	RecoveryCodesCipher []string   `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

// Clone returns a deep copy; stores hand out clones so callers never share
// slices or pointers with persisted state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.AgencyID = cloneInt64(u.AgencyID)
	cp.LastLoginIP = cloneString(u.LastLoginIP)
	cp.LastLoginAt = cloneTime(u.LastLoginAt)
	cp.TwoFactorSecret = cloneString(u.TwoFactorSecret)
	cp.TwoFactorCodeHash = cloneString(u.TwoFactorCodeHash)
	cp.TwoFactorExpiresAt = cloneTime(u.TwoFactorExpiresAt)
	cp.DeletedAt = cloneTime(u.DeletedAt)
	if u.RecoveryCodesCipher != nil {
		cp.RecoveryCodesCipher = append([]string(nil), u.RecoveryCodesCipher...)
	}
	return &cp
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TwoFactorVerifyRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Code         string `json:"code"`
	RecoveryCode string `json:"recovery_code"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive"`
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
