package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/authz"
	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/utils"
)

// TokenPair is what a client receives after a completed login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        int64
}

// LoginResult is either a pending two-factor challenge or issued tokens.
type LoginResult struct {
	User             *models.User
	TwoFactorPending bool
	Tokens           *TokenPair
}

// AuthService drives login, two-factor completion, registration, refresh
// and logout on top of the tracker, token, session and 2FA services.
type AuthService struct {
	store     repositories.Store
	hasher    PasswordHasher
	tracker   *AttemptTracker
	tokens    *TokenService
	sessions  *SessionService
	twoFactor *TwoFactorService
	notify    Notifiers
	now       func() time.Time
}

func NewAuthService(
	store repositories.Store,
	hasher PasswordHasher,
	tracker *AttemptTracker,
	tokens *TokenService,
	sessions *SessionService,
	twoFactor *TwoFactorService,
	notify Notifiers,
) *AuthService {
	return &AuthService{
		store:     store,
		hasher:    hasher,
		tracker:   tracker,
		tokens:    tokens,
		sessions:  sessions,
		twoFactor: twoFactor,
		notify:    notify,
		now:       time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// lookup returns (nil, nil) for unknown emails.
func (s *AuthService) lookup(ctx context.Context, email string) (*models.User, error) {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// gate applies the surface role rule and the status rule. Both run before
// any attempt row is touched.
func gate(surface authz.Surface, user *models.User) error {
	if user == nil {
		return nil
	}
	if !authz.CanLogin(surface, user.Role) {
		return ErrRoleNotAllowed
	}
	if !user.IsActive() {
		return ErrAccountInactive
	}
	return nil
}

// Login authenticates email/password from a device on the given surface.
func (s *AuthService) Login(ctx context.Context, surface authz.Surface, email, password string, meta models.DeviceMeta) (*LoginResult, error) {
	l := log.With().Str("component", "auth").Str("op", "login").Str("surface", string(surface)).Str("ip", meta.IP).Logger()
	email = normalizeEmail(email)

	user, err := s.lookup(ctx, email)
	if err != nil {
		l.Error().Err(err).Msg("user lookup failed")
		return nil, ErrLoginFailed
	}
	if err := gate(surface, user); err != nil {
		l.Info().Err(err).Int64("user_id", user.ID).Msg("login rejected")
		return nil, err
	}

	var userID *int64
	if user != nil {
		userID = &user.ID
	}
	fp := utils.Fingerprint(meta.IP, meta.UserAgent, meta.DeviceName)
	attempt, err := s.tracker.Begin(ctx, fp, meta.IP, email, userID)
	var locked *LockedError
	if errors.As(err, &locked) {
		l.Info().Err(err).Msg("login blocked by lock")
		return nil, locked
	}
	if err != nil {
		l.Error().Err(err).Msg("attempt tracking failed")
		return nil, ErrLoginFailed
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !s.hasher.Check(hash, password) {
		s.tracker.Fail(ctx, attempt)
		return nil, ErrInvalidCredentials
	}

	if err := s.tracker.OnSuccess(ctx, fp, meta.IP); err != nil {
		l.Error().Err(err).Msg("reset attempts failed")
		return nil, ErrLoginFailed
	}

	var (
		res  = &LoginResult{User: user}
		code string
		sess *models.UserSession
	)
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		now := s.now()
		if err := tx.Users().RecordLogin(ctx, user.ID, now, meta.IP); err != nil {
			return err
		}
		ip := meta.IP
		user.LastLoginAt, user.LastLoginIP, user.TwoFactorVerified = &now, &ip, false

		if user.TwoFactorEnabled {
			c, err := s.twoFactor.GenerateCode(ctx, tx, user)
			if err != nil {
				return err
			}
			code = c
			res.TwoFactorPending = true
			return nil
		}
		pair, created, err := s.issue(ctx, tx, user, meta)
		if err != nil {
			return err
		}
		res.Tokens, sess = pair, created
		return nil
	})
	if err != nil {
		l.Error().Err(err).Int64("user_id", user.ID).Msg("login transaction rolled back")
		return nil, ErrLoginFailed
	}

	if res.TwoFactorPending {
		s.twoFactor.Deliver(ctx, user, code)
		l.Info().Int64("user_id", user.ID).Msg("two-factor challenge sent")
		return res, nil
	}
	s.sessions.ResolveCountry(ctx, sess)
	l.Info().Int64("user_id", user.ID).Int64("session_id", sess.ID).Msg("login ok")
	return res, nil
}

// issue creates access token, refresh token and session through tx.
func (s *AuthService) issue(ctx context.Context, tx repositories.Store, user *models.User, meta models.DeviceMeta) (*TokenPair, *models.UserSession, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(ctx, tx, user)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	sealed, err := s.tokens.Encrypt(refresh)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessions.Create(ctx, tx, user.ID, meta, sealed)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
	}, sess, nil
}

// errChallengeFailed rolls back a verification transaction.
var errChallengeFailed = errors.New("challenge failed")

// VerifyTwoFactor completes a pending challenge with either the emailed
// code or one recovery code and then issues tokens like a normal login.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, surface authz.Surface, email, code, recoveryCode string, meta models.DeviceMeta) (*LoginResult, error) {
	l := log.With().Str("component", "auth").Str("op", "2fa_verify").Str("ip", meta.IP).Logger()
	email = normalizeEmail(email)

	user, err := s.lookup(ctx, email)
	if err != nil {
		l.Error().Err(err).Msg("user lookup failed")
		return nil, ErrLoginFailed
	}
	if err := gate(surface, user); err != nil {
		return nil, err
	}

	var userID *int64
	if user != nil {
		userID = &user.ID
	}
	fp := utils.Fingerprint(meta.IP, meta.UserAgent, meta.DeviceName)
	attempt, err := s.tracker.Begin(ctx, fp, meta.IP, email, userID)
	var locked *LockedError
	if errors.As(err, &locked) {
		return nil, locked
	}
	if err != nil {
		l.Error().Err(err).Msg("attempt tracking failed")
		return nil, ErrLoginFailed
	}

	fail := func() (*LoginResult, error) {
		s.tracker.Fail(ctx, attempt)
		return nil, ErrInvalidTwoFactorCode
	}
	if user == nil || !user.TwoFactorEnabled || (code == "" && recoveryCode == "") {
		return fail()
	}

	var (
		res  = &LoginResult{User: user}
		sess *models.UserSession
	)
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		fresh, err := tx.Users().GetByIDForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if !s.twoFactor.Pending(fresh) {
			return errChallengeFailed
		}
		if code != "" {
			if !s.twoFactor.VerifyCode(fresh, code) {
				return errChallengeFailed
			}
		} else {
			ok, err := s.twoFactor.VerifyRecoveryCode(ctx, tx, fresh.ID, recoveryCode)
			if err != nil {
				return err
			}
			if !ok {
				return errChallengeFailed
			}
		}
		if err := s.twoFactor.Complete(ctx, tx, fresh); err != nil {
			return err
		}
		pair, created, err := s.issue(ctx, tx, fresh, meta)
		if err != nil {
			return err
		}
		res.User, res.Tokens, sess = fresh, pair, created
		return nil
	})
	if errors.Is(err, errChallengeFailed) {
		return fail()
	}
	if err != nil {
		l.Error().Err(err).Int64("user_id", user.ID).Msg("2fa transaction rolled back")
		return nil, ErrLoginFailed
	}

	if err := s.tracker.OnSuccess(ctx, fp, meta.IP); err != nil {
		l.Warn().Err(err).Msg("reset attempts failed")
	}
	s.sessions.ResolveCountry(ctx, sess)
	l.Info().Int64("user_id", user.ID).Bool("recovery_code", code == "").Msg("two-factor login ok")
	return res, nil
}

// Register creates an agency account with a fresh recovery code set. The
// plaintext codes go out once, after commit.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	l := log.With().Str("component", "auth").Str("op", "register").Logger()
	email = normalizeEmail(email)

	hash, err := hashPassword(s.hasher, "password", password)
	var verr *ValidationError
	if errors.As(err, &verr) {
		return nil, verr
	}
	if err != nil {
		l.Error().Err(err).Msg("hash password failed")
		return nil, ErrRegistrationFailed
	}
	plain, sealed, err := s.twoFactor.GenerateRecoveryCodes()
	if err != nil {
		l.Error().Err(err).Msg("recovery codes failed")
		return nil, ErrRegistrationFailed
	}

	user := &models.User{
		Name:                strings.TrimSpace(name),
		Email:               email,
		PasswordHash:        hash,
		Role:                authz.DefaultRegistrationRole,
		Status:              models.StatusActive,
		Timezone:            "UTC",
		Language:            "en",
		RecoveryCodesCipher: sealed,
	}
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		taken, err := tx.Users().EmailExists(ctx, email)
		if err != nil {
			return err
		}
		if taken {
			return repositories.ErrEmailTaken
		}
		return tx.Users().Create(ctx, user)
	})
	if errors.Is(err, repositories.ErrEmailTaken) {
		return nil, fieldError("email", "The email has already been taken.")
	}
	if err != nil {
		l.Error().Err(err).Msg("registration transaction rolled back")
		return nil, ErrRegistrationFailed
	}

	s.notify.RecoveryCodes(ctx, user, plain)
	l.Info().Int64("user_id", user.ID).Msg("registered")
	return user, nil
}

// Refresh swaps a refresh token for a new access/refresh pair on the same
// session row. The presented token stops working immediately.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	l := log.With().Str("component", "auth").Str("op", "refresh").Logger()
	if refreshToken == "" {
		return nil, ErrRefreshTokenMissing
	}

	res := &LoginResult{}
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		found, err := s.tokens.FindSessionByRefreshToken(ctx, tx, refreshToken)
		if err != nil {
			return err
		}
		sess, err := tx.Sessions().GetByIDForUpdate(ctx, found.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		// another refresh may have rotated the row while we scanned
		current, err := s.tokens.Decrypt(sess.RefreshToken)
		if err != nil || subtle.ConstantTimeCompare([]byte(current), []byte(refreshToken)) != 1 {
			return ErrInvalidRefreshToken
		}

		user, err := tx.Users().GetByID(ctx, sess.UserID)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		if err != nil {
			return err
		}
		if !user.IsActive() {
			return ErrAccountInactive
		}

		access, accessExp, err := s.tokens.IssueAccessToken(ctx, tx, user)
		if err != nil {
			return err
		}
		next, err := s.tokens.IssueRefreshToken()
		if err != nil {
			return err
		}
		sealed, err := s.tokens.Encrypt(next)
		if err != nil {
			return err
		}
		if err := s.sessions.Touch(ctx, tx, sess, sealed); err != nil {
			return err
		}
		res.User = user
		res.Tokens = &TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     next,
			RefreshExpiresAt: sess.ExpiresAt,
			SessionID:        sess.ID,
		}
		return nil
	})
	switch {
	case err == nil:
		l.Info().Int64("user_id", res.User.ID).Int64("session_id", res.Tokens.SessionID).Msg("refreshed")
		return res, nil
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrRefreshTokenMissing), errors.Is(err, ErrAccountInactive):
		return nil, err
	default:
		l.Error().Err(err).Msg("refresh transaction rolled back")
		return nil, ErrRefreshFailed
	}
}

// Logout drops the session matching refreshToken (if any, and if owned by
// userID) and revokes only the access token of the current request.
func (s *AuthService) Logout(ctx context.Context, userID int64, refreshToken, accessTokenID string) error {
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		if refreshToken != "" {
			sess, err := s.tokens.FindSessionByRefreshToken(ctx, tx, refreshToken)
			switch {
			case err == nil && sess.UserID == userID:
				if err := tx.Sessions().Delete(ctx, sess.ID); err != nil {
					return err
				}
			case err == nil, errors.Is(err, ErrInvalidRefreshToken):
			default:
				return err
			}
		}
		return s.tokens.RevokeAccessToken(ctx, tx, accessTokenID)
	})
	if err != nil {
		log.Error().Err(err).Str("component", "auth").Str("op", "logout").Int64("user_id", userID).Msg("logout failed")
		return ErrInternal
	}
	return nil
}

// LogoutAll deletes every session and access token of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	var sessions, tokens int64
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		var err error
		if sessions, err = s.sessions.DestroyAll(ctx, tx, userID); err != nil {
			return err
		}
		tokens, err = s.tokens.RevokeAllAccessTokens(ctx, tx, userID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("component", "auth").Str("op", "logout_all").Int64("user_id", userID).Msg("logout all failed")
		return ErrInternal
	}
	log.Info().Str("component", "auth").Str("op", "logout_all").Int64("user_id", userID).
		Int64("sessions", sessions).Int64("tokens", tokens).Msg("signed out everywhere")
	return nil
}

// Authenticate validates a bearer access token and loads its user.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*AccessClaims, *models.User, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, s.store, raw)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.Users().GetByID(ctx, claims.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, ErrInvalidAccessToken
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, ErrAccountInactive
	}
	return claims, user, nil
}
