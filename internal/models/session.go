package models

import "time"

type UserSession struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	DeviceName   string     `json:"device_name"`
	BrowserName  string     `json:"browser_name"`
	IPAddress    string     `json:"ip_address"`
	Country      *string    `json:"country"`
	RefreshToken string     `json:"-"` // ciphertext only
	ExpiresAt    time.Time  `json:"expires_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Country = cloneString(s.Country)
	cp.LastUsedAt = cloneTime(s.LastUsedAt)
	return &cp
}

// SessionView is what the owner sees in /sessions.
type SessionView struct {
	ID          int64      `json:"id"`
	DeviceName  string     `json:"device_name"`
	BrowserName string     `json:"browser_name"`
	IPAddress   string     `json:"ip_address"`
	Country     *string    `json:"country"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func (s *UserSession) View() SessionView {
	return SessionView{
		ID:          s.ID,
		DeviceName:  s.DeviceName,
		BrowserName: s.BrowserName,
		IPAddress:   s.IPAddress,
		Country:     cloneString(s.Country),
		LastUsedAt:  cloneTime(s.LastUsedAt),
		ExpiresAt:   s.ExpiresAt,
	}
}

// AccessToken is the server-side record of an issued bearer token. The ID
// doubles as the JWT "jti".
type AccessToken struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	Abilities  []string   `json:"abilities"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Abilities = append([]string(nil), t.Abilities...)
	cp.LastUsedAt = cloneTime(t.LastUsedAt)
	return &cp
}

// DeviceMeta is the client description taken from the request.
type DeviceMeta struct {
	IP         string
	UserAgent  string
	DeviceName string
}
