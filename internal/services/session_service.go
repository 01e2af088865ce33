package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/utils"
)

// SessionService is the per-user registry of refresh-token sessions.
type SessionService struct {
	store       repositories.Store
	maxSessions int
	ttl         time.Duration
	geo         GeoLocator
	localEnv    bool
	now         func() time.Time
}

func NewSessionService(store repositories.Store, maxSessions int, ttl time.Duration, geo GeoLocator, localEnv bool) *SessionService {
	if maxSessions <= 0 {
		maxSessions = 3
	}
	return &SessionService{
		store:       store,
		maxSessions: maxSessions,
		ttl:         ttl,
		geo:         geo,
		localEnv:    localEnv,
		now:         time.Now,
	}
}

// Create inserts a session through q, first evicting the oldest sessions
// so the user never holds more than maxSessions.
func (s *SessionService) Create(ctx context.Context, q repositories.Store, userID int64, meta models.DeviceMeta, encryptedRefresh string) (*models.UserSession, error) {
	existing, err := q.Sessions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for len(existing) >= s.maxSessions {
		oldest := existing[0]
		if err := q.Sessions().Delete(ctx, oldest.ID); err != nil {
			return nil, fmt.Errorf("evict session %d: %w", oldest.ID, err)
		}
		log.Info().Str("component", "sessions").Int64("user_id", userID).Int64("session_id", oldest.ID).Msg("evicted oldest session")
		existing = existing[1:]
	}

	deviceName := meta.DeviceName
	if deviceName == "" {
		deviceName = utils.DefaultDeviceName
	}
	now := s.now()
	sess := &models.UserSession{
		UserID:       userID,
		DeviceName:   deviceName,
		BrowserName:  meta.UserAgent,
		IPAddress:    meta.IP,
		RefreshToken: encryptedRefresh,
		ExpiresAt:    now.Add(s.ttl),
		LastUsedAt:   &now,
	}
	if err := q.Sessions().Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ResolveCountry fills in the session's country. It runs after the login
// transaction has committed and never fails the caller.
func (s *SessionService) ResolveCountry(ctx context.Context, sess *models.UserSession) {
	if s.geo == nil || s.localEnv || sess == nil || !isPublicIP(sess.IPAddress) {
		return
	}
	country, err := s.geo.Country(ctx, sess.IPAddress)
	if err != nil || country == "" {
		log.Warn().Err(err).Str("component", "sessions").Str("ip", sess.IPAddress).Msg("geo lookup failed")
		return
	}
	if err := s.store.Sessions().SetCountry(ctx, sess.ID, country); err != nil {
		log.Warn().Err(err).Str("component", "sessions").Int64("session_id", sess.ID).Msg("store country failed")
		return
	}
	sess.Country = &country
}

func (s *SessionService) List(ctx context.Context, userID int64) ([]models.SessionView, error) {
	list, err := s.store.Sessions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]models.SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.View())
	}
	return out, nil
}

// Destroy removes one of the user's own sessions.
func (s *SessionService) Destroy(ctx context.Context, userID, id int64) error {
	ok, err := s.store.Sessions().DeleteForUser(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SessionService) DestroyAll(ctx context.Context, q repositories.Store, userID int64) (int64, error) {
	return q.Sessions().DeleteAllForUser(ctx, userID)
}

// Touch rotates the stored refresh token and marks the session used.
func (s *SessionService) Touch(ctx context.Context, q repositories.Store, sess *models.UserSession, encryptedRefresh string) error {
	now := s.now()
	if err := q.Sessions().UpdateRefresh(ctx, sess.ID, encryptedRefresh, now); err != nil {
		return fmt.Errorf("rotate session %d: %w", sess.ID, err)
	}
	sess.RefreshToken = encryptedRefresh
	sess.LastUsedAt = &now
	return nil
}
