package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/utils"
)

// ScopeAll is the only ability access tokens carry for now.
const ScopeAll = "*"

const refreshTokenBytes = 32 // 64 hex chars

type AccessClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService issues access/refresh tokens and seals refresh tokens at rest.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	enc        *utils.Encrypter
	now        func() time.Time
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, enc *utils.Encrypter) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		enc:        enc,
		now:        time.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken persists the token record through q (so it joins the
// caller's transaction) and returns the signed JWT.
func (s *TokenService) IssueAccessToken(ctx context.Context, q repositories.Store, user *models.User) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	rec := &models.AccessToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      "access",
		Abilities: []string{ScopeAll},
		ExpiresAt: exp,
	}
	if err := q.AccessTokens().Create(ctx, rec); err != nil {
		return "", time.Time{}, fmt.Errorf("store access token: %w", err)
	}

	claims := &AccessClaims{
		UserID: user.ID,
		Role:   user.Role,
		Scope:  ScopeAll,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (s *TokenService) IssueRefreshToken() (string, error) {
	return utils.NewRefreshToken(refreshTokenBytes)
}

func (s *TokenService) Encrypt(token string) (string, error) {
	return s.enc.Encrypt(token)
}

func (s *TokenService) Decrypt(cipherText string) (string, error) {
	return s.enc.Decrypt(cipherText)
}

// ParseAccessToken checks signature, algorithm and expiry only.
func (s *TokenService) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrInvalidAccessToken
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// ValidateAccessToken additionally requires the server-side record to
// exist, which is what makes individual and bulk revocation work.
func (s *TokenService) ValidateAccessToken(ctx context.Context, q repositories.Store, raw string) (*AccessClaims, error) {
	claims, err := s.ParseAccessToken(raw)
	if err != nil {
		return nil, err
	}
	rec, err := q.AccessTokens().Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, fmt.Errorf("load access token: %w", err)
	}
	now := s.now()
	if !rec.ExpiresAt.After(now) {
		return nil, ErrAccessTokenExpired
	}
	if rec.UserID != claims.UserID {
		return nil, ErrInvalidAccessToken
	}
	if err := q.AccessTokens().Touch(ctx, rec.ID, now); err != nil {
		log.Warn().Err(err).Str("component", "tokens").Msg("touch access token failed")
	}
	return claims, nil
}

// FindSessionByRefreshToken decrypts every live session's token and
// compares it with plain. Ciphertexts that fail to open are skipped.
func (s *TokenService) FindSessionByRefreshToken(ctx context.Context, q repositories.Store, plain string) (*models.UserSession, error) {
	if plain == "" {
		return nil, ErrRefreshTokenMissing
	}
	sessions, err := q.Sessions().ListActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range sessions {
		stored, err := s.enc.Decrypt(sess.RefreshToken)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1 {
			return sess, nil
		}
	}
	return nil, ErrInvalidRefreshToken
}

func (s *TokenService) RevokeAccessToken(ctx context.Context, q repositories.Store, id string) error {
	if id == "" {
		return nil
	}
	return q.AccessTokens().Delete(ctx, id)
}

func (s *TokenService) RevokeAllAccessTokens(ctx context.Context, q repositories.Store, userID int64) (int64, error) {
	return q.AccessTokens().DeleteAllForUser(ctx, userID)
}
