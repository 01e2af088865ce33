package models

import "time"

// LoginAttempt tracks failures per device fingerprint.
type LoginAttempt struct {
	ID                 int64      `json:"id"`
	BrowserFingerprint string     `json:"browser_fingerprint"`
	IPAddress          string     `json:"ip_address"`
	UserID             *int64     `json:"user_id,omitempty"`
	AttemptedEmails    []string   `json:"attempted_emails"`
	FailedAttempts     int        `json:"failed_attempts"`
	LockCount          int        `json:"lock_count"`
	LockUntil          *time.Time `json:"lock_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AddEmail appends email unless it is already present. Reports whether the
// list changed.
func (a *LoginAttempt) AddEmail(email string) bool {
	for _, e := range a.AttemptedEmails {
		if e == email {
			return false
		}
	}
	a.AttemptedEmails = append(a.AttemptedEmails, email)
	return true
}

func (a *LoginAttempt) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

func (a *LoginAttempt) Clone() *LoginAttempt {
	if a == nil {
		return nil
	}
	cp := *a
	cp.UserID = cloneInt64(a.UserID)
	cp.LockUntil = cloneTime(a.LockUntil)
	cp.AttemptedEmails = append([]string(nil), a.AttemptedEmails...)
	return &cp
}

// IpAttempt tracks failures per client IP, independent of the device.
type IpAttempt struct {
	ID             int64      `json:"id"`
	IPAddress      string     `json:"ip_address"`
	FailedAttempts int        `json:"failed_attempts"`
	LockUntil      *time.Time `json:"lock_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (a *IpAttempt) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

func (a *IpAttempt) Clone() *IpAttempt {
	if a == nil {
		return nil
	}
	cp := *a
	cp.LockUntil = cloneTime(a.LockUntil)
	return &cp
}
