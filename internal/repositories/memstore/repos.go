package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"invento/internal/models"
	"invento/internal/repositories"
)

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	return r.s.do("users.Create", func(st *state) error {
		for _, u := range st.users {
			if u.DeletedAt == nil && strings.EqualFold(u.Email, user.Email) {
				return repositories.ErrEmailTaken
			}
		}
		st.nextUserID++
		now := r.s.now()
		user.ID = st.nextUserID
		user.CreatedAt = now
		user.UpdatedAt = now
		st.users[user.ID] = user.Clone()
		return nil
	})
}

func (r *userRepo) live(st *state, id int64) (*models.User, error) {
	u, ok := st.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

func (r *userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := r.s.do("users.GetByID", func(st *state) error {
		u, err := r.live(st, id)
		if err != nil {
			return err
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r *userRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	var out *models.User
	err := r.s.do("users.GetByEmail", func(st *state) error {
		for _, u := range st.users {
			if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
				out = u.Clone()
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *userRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if err == repositories.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *userRepo) update(op string, id int64, fn func(u *models.User)) error {
	return r.s.do(op, func(st *state) error {
		u, err := r.live(st, id)
		if err != nil {
			return err
		}
		fn(u)
		u.UpdatedAt = r.s.now()
		return nil
	})
}

func (r *userRepo) RecordLogin(_ context.Context, id int64, at time.Time, ip string) error {
	return r.update("users.RecordLogin", id, func(u *models.User) {
		t := at
		addr := ip
		u.LastLoginAt = &t
		u.LastLoginIP = &addr
		u.TwoFactorVerified = false
	})
}

func (r *userRepo) SetTwoFactorCode(_ context.Context, id int64, codeHash *string, expiresAt *time.Time, verified bool) error {
	return r.update("users.SetTwoFactorCode", id, func(u *models.User) {
		u.TwoFactorCodeHash = nil
		u.TwoFactorExpiresAt = nil
		if codeHash != nil {
			h := *codeHash
			u.TwoFactorCodeHash = &h
		}
		if expiresAt != nil {
			t := *expiresAt
			u.TwoFactorExpiresAt = &t
		}
		u.TwoFactorVerified = verified
	})
}

func (r *userRepo) SetTwoFactorEnabled(_ context.Context, id int64, enabled bool) error {
	return r.update("users.SetTwoFactorEnabled", id, func(u *models.User) {
		u.TwoFactorEnabled = enabled
	})
}

func (r *userRepo) SetRecoveryCodes(_ context.Context, id int64, cipherTexts []string) error {
	return r.update("users.SetRecoveryCodes", id, func(u *models.User) {
		u.RecoveryCodesCipher = append([]string{}, cipherTexts...)
	})
}

func (r *userRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return r.update("users.UpdatePassword", id, func(u *models.User) {
		u.PasswordHash = hash
	})
}

func (r *userRepo) SetStatus(_ context.Context, id int64, status string) error {
	return r.update("users.SetStatus", id, func(u *models.User) {
		u.Status = status
	})
}

func (r *userRepo) SoftDelete(_ context.Context, id int64, at time.Time) error {
	return r.update("users.SoftDelete", id, func(u *models.User) {
		t := at
		u.DeletedAt = &t
	})
}

func (r *userRepo) Restore(_ context.Context, id int64) error {
	return r.s.do("users.Restore", func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.DeletedAt == nil {
			return repositories.ErrNotFound
		}
		for _, other := range st.users {
			if other.DeletedAt == nil && strings.EqualFold(other.Email, u.Email) {
				return repositories.ErrEmailTaken
			}
		}
		u.DeletedAt = nil
		return nil
	})
}

func (r *userRepo) ForceDelete(_ context.Context, id int64) error {
	return r.s.do("users.ForceDelete", func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.users, id)
		for sid, sess := range st.sessions {
			if sess.UserID == id {
				delete(st.sessions, sid)
			}
		}
		for tid, tok := range st.tokens {
			if tok.UserID == id {
				delete(st.tokens, tid)
			}
		}
		for rid, pr := range st.resets {
			if pr.UserID == id {
				delete(st.resets, rid)
			}
		}
		return nil
	})
}

func inAgency(u *models.User, agencyID int64) bool {
	return u.AgencyID != nil && *u.AgencyID == agencyID
}

func (r *userRepo) GetTrashed(_ context.Context, agencyID, id int64) (*models.User, error) {
	var out *models.User
	err := r.s.do("users.GetTrashed", func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.DeletedAt == nil || !inAgency(u, agencyID) {
			return repositories.ErrNotFound
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r *userRepo) ListTrashed(_ context.Context, agencyID int64) ([]*models.User, error) {
	var out []*models.User
	err := r.s.do("users.ListTrashed", func(st *state) error {
		for _, u := range st.users {
			if u.DeletedAt != nil && inAgency(u, agencyID) {
				out = append(out, u.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(*out[j].DeletedAt) })
		return nil
	})
	return out, err
}

type attemptRepo struct{ s *Store }

func (r *attemptRepo) GetOrCreateDevice(_ context.Context, fingerprint, ip string, userID *int64) (*models.LoginAttempt, error) {
	var out *models.LoginAttempt
	err := r.s.do("attempts.GetOrCreateDevice", func(st *state) error {
		a, ok := st.devices[fingerprint]
		if !ok {
			st.nextAttemptID++
			now := r.s.now()
			a = &models.LoginAttempt{
				ID:                 st.nextAttemptID,
				BrowserFingerprint: fingerprint,
				IPAddress:          ip,
				UserID:             userID,
				AttemptedEmails:    []string{},
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			st.devices[fingerprint] = a
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r *attemptRepo) GetOrCreateIP(_ context.Context, ip string) (*models.IpAttempt, error) {
	var out *models.IpAttempt
	err := r.s.do("attempts.GetOrCreateIP", func(st *state) error {
		a, ok := st.ips[ip]
		if !ok {
			st.nextIPID++
			now := r.s.now()
			a = &models.IpAttempt{ID: st.nextIPID, IPAddress: ip, CreatedAt: now, UpdatedAt: now}
			st.ips[ip] = a
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r *attemptRepo) SaveDevice(_ context.Context, a *models.LoginAttempt) error {
	return r.s.do("attempts.SaveDevice", func(st *state) error {
		cur, ok := st.devices[a.BrowserFingerprint]
		if !ok {
			return repositories.ErrNotFound
		}
		cp := a.Clone()
		if cp.UserID == nil {
			cp.UserID = cur.UserID
		}
		cp.UpdatedAt = r.s.now()
		st.devices[a.BrowserFingerprint] = cp
		return nil
	})
}

func (r *attemptRepo) SaveIP(_ context.Context, a *models.IpAttempt) error {
	return r.s.do("attempts.SaveIP", func(st *state) error {
		if _, ok := st.ips[a.IPAddress]; !ok {
			return repositories.ErrNotFound
		}
		cp := a.Clone()
		cp.UpdatedAt = r.s.now()
		st.ips[a.IPAddress] = cp
		return nil
	})
}

// Device and IP expose raw rows for assertions in tests.
func (s *Store) Device(fingerprint string) *models.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.devices[fingerprint].Clone()
}

func (s *Store) IP(ip string) *models.IpAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ips[ip].Clone()
}

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(_ context.Context, sess *models.UserSession) error {
	return r.s.do("sessions.Create", func(st *state) error {
		st.nextSessionID++
		now := r.s.now()
		sess.ID = st.nextSessionID
		sess.CreatedAt = now
		sess.UpdatedAt = now
		st.sessions[sess.ID] = sess.Clone()
		return nil
	})
}

func (r *sessionRepo) GetByID(_ context.Context, id int64) (*models.UserSession, error) {
	var out *models.UserSession
	err := r.s.do("sessions.GetByID", func(st *state) error {
		sess, ok := st.sessions[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = sess.Clone()
		return nil
	})
	return out, err
}

func (r *sessionRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.UserSession, error) {
	return r.GetByID(ctx, id)
}

func sortSessions(list []*models.UserSession) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (r *sessionRepo) ListByUser(_ context.Context, userID int64) ([]*models.UserSession, error) {
	var out []*models.UserSession
	err := r.s.do("sessions.ListByUser", func(st *state) error {
		for _, sess := range st.sessions {
			if sess.UserID == userID {
				out = append(out, sess.Clone())
			}
		}
		sortSessions(out)
		return nil
	})
	return out, err
}

func (r *sessionRepo) ListActive(_ context.Context, now time.Time) ([]*models.UserSession, error) {
	var out []*models.UserSession
	err := r.s.do("sessions.ListActive", func(st *state) error {
		for _, sess := range st.sessions {
			if sess.ExpiresAt.After(now) {
				out = append(out, sess.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r *sessionRepo) UpdateRefresh(_ context.Context, id int64, cipherText string, usedAt time.Time) error {
	return r.s.do("sessions.UpdateRefresh", func(st *state) error {
		sess, ok := st.sessions[id]
		if !ok {
			return repositories.ErrNotFound
		}
		t := usedAt
		sess.RefreshToken = cipherText
		sess.LastUsedAt = &t
		sess.UpdatedAt = r.s.now()
		return nil
	})
}

func (r *sessionRepo) SetCountry(_ context.Context, id int64, country string) error {
	return r.s.do("sessions.SetCountry", func(st *state) error {
		if sess, ok := st.sessions[id]; ok {
			c := country
			sess.Country = &c
		}
		return nil
	})
}

func (r *sessionRepo) Delete(_ context.Context, id int64) error {
	return r.s.do("sessions.Delete", func(st *state) error {
		delete(st.sessions, id)
		return nil
	})
}

func (r *sessionRepo) DeleteForUser(_ context.Context, userID, id int64) (bool, error) {
	var deleted bool
	err := r.s.do("sessions.DeleteForUser", func(st *state) error {
		sess, ok := st.sessions[id]
		if ok && sess.UserID == userID {
			delete(st.sessions, id)
			deleted = true
		}
		return nil
	})
	return deleted, err
}

func (r *sessionRepo) DeleteAllForUser(_ context.Context, userID int64) (int64, error) {
	var n int64
	err := r.s.do("sessions.DeleteAllForUser", func(st *state) error {
		for id, sess := range st.sessions {
			if sess.UserID == userID {
				delete(st.sessions, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type tokenRepo struct{ s *Store }

func (r *tokenRepo) Create(_ context.Context, t *models.AccessToken) error {
	return r.s.do("tokens.Create", func(st *state) error {
		t.CreatedAt = r.s.now()
		st.tokens[t.ID] = t.Clone()
		return nil
	})
}

func (r *tokenRepo) Get(_ context.Context, id string) (*models.AccessToken, error) {
	var out *models.AccessToken
	err := r.s.do("tokens.Get", func(st *state) error {
		t, ok := st.tokens[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *tokenRepo) Touch(_ context.Context, id string, at time.Time) error {
	return r.s.do("tokens.Touch", func(st *state) error {
		if t, ok := st.tokens[id]; ok {
			lt := at
			t.LastUsedAt = &lt
		}
		return nil
	})
}

func (r *tokenRepo) Delete(_ context.Context, id string) error {
	return r.s.do("tokens.Delete", func(st *state) error {
		delete(st.tokens, id)
		return nil
	})
}

func (r *tokenRepo) DeleteAllForUser(_ context.Context, userID int64) (int64, error) {
	var n int64
	err := r.s.do("tokens.DeleteAllForUser", func(st *state) error {
		for id, t := range st.tokens {
			if t.UserID == userID {
				delete(st.tokens, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// TokenCount reports how many access tokens the user currently holds.
func (s *Store) TokenCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.st.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

type resetRepo struct{ s *Store }

func (r *resetRepo) Create(_ context.Context, pr *models.PasswordReset) error {
	return r.s.do("resets.Create", func(st *state) error {
		st.nextResetID++
		pr.ID = st.nextResetID
		pr.CreatedAt = r.s.now()
		st.resets[pr.ID] = pr.Clone()
		return nil
	})
}

func (r *resetRepo) GetByTokenHashForUpdate(_ context.Context, tokenHash string) (*models.PasswordReset, error) {
	var out *models.PasswordReset
	err := r.s.do("resets.GetByTokenHash", func(st *state) error {
		for _, pr := range st.resets {
			if pr.TokenHash == tokenHash {
				out = pr.Clone()
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *resetRepo) MarkUsed(_ context.Context, id int64, at time.Time) error {
	return r.s.do("resets.MarkUsed", func(st *state) error {
		pr, ok := st.resets[id]
		if !ok {
			return repositories.ErrNotFound
		}
		t := at
		pr.UsedAt = &t
		return nil
	})
}

func (r *resetRepo) DeleteForUser(_ context.Context, userID int64) (int64, error) {
	var n int64
	err := r.s.do("resets.DeleteForUser", func(st *state) error {
		for id, pr := range st.resets {
			if pr.UserID == userID {
				delete(st.resets, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
