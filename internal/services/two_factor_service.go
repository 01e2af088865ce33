package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/utils"
)

const (
	twoFactorCodeLen    = 6
	recoveryCodeLen     = 10
	defaultTwoFactorTTL = 10 * time.Minute
)

// TwoFactorService owns the one-time email/SMS code and the recovery codes.
type TwoFactorService struct {
	store         repositories.Store
	hasher        PasswordHasher
	enc           *utils.Encrypter
	notify        Notifiers
	ttl           time.Duration
	recoveryCount int
	now           func() time.Time
}

func NewTwoFactorService(store repositories.Store, hasher PasswordHasher, enc *utils.Encrypter, notify Notifiers, ttl time.Duration, recoveryCount int) *TwoFactorService {
	if ttl <= 0 {
		ttl = defaultTwoFactorTTL
	}
	if recoveryCount <= 0 {
		recoveryCount = 8
	}
	return &TwoFactorService{
		store:         store,
		hasher:        hasher,
		enc:           enc,
		notify:        notify,
		ttl:           ttl,
		recoveryCount: recoveryCount,
		now:           time.Now,
	}
}

// GenerateCode stores the hash of a fresh code through q and returns the
// plaintext. The caller sends it with Deliver once q has committed.
func (s *TwoFactorService) GenerateCode(ctx context.Context, q repositories.Store, user *models.User) (string, error) {
	code, err := utils.NewCode(twoFactorCodeLen)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("hash 2fa code: %w", err)
	}
	exp := s.now().Add(s.ttl)
	if err := q.Users().SetTwoFactorCode(ctx, user.ID, &hash, &exp, false); err != nil {
		return "", fmt.Errorf("store 2fa code: %w", err)
	}
	user.TwoFactorCodeHash = &hash
	user.TwoFactorExpiresAt = &exp
	user.TwoFactorVerified = false
	return code, nil
}

// Deliver hands the plaintext code to every notification channel.
func (s *TwoFactorService) Deliver(ctx context.Context, user *models.User, code string) {
	s.notify.TwoFactorCode(ctx, user, code)
}

// VerifyCode reports whether code matches the pending, unexpired challenge.
func (s *TwoFactorService) VerifyCode(user *models.User, code string) bool {
	if user.TwoFactorCodeHash == nil || user.TwoFactorExpiresAt == nil {
		return false
	}
	if !s.now().Before(*user.TwoFactorExpiresAt) {
		return false
	}
	return s.hasher.Check(*user.TwoFactorCodeHash, strings.ToUpper(strings.TrimSpace(code)))
}

// Pending reports whether a challenge is outstanding.
func (s *TwoFactorService) Pending(user *models.User) bool {
	return user.TwoFactorCodeHash != nil && user.TwoFactorExpiresAt != nil && s.now().Before(*user.TwoFactorExpiresAt)
}

// Complete clears the code and marks the user verified for this login.
func (s *TwoFactorService) Complete(ctx context.Context, q repositories.Store, user *models.User) error {
	if err := q.Users().SetTwoFactorCode(ctx, user.ID, nil, nil, true); err != nil {
		return fmt.Errorf("clear 2fa code: %w", err)
	}
	user.TwoFactorCodeHash = nil
	user.TwoFactorExpiresAt = nil
	user.TwoFactorVerified = true
	return nil
}

// GenerateRecoveryCodes returns a fresh batch in plaintext and encrypted.
func (s *TwoFactorService) GenerateRecoveryCodes() (plain, sealed []string, err error) {
	plain = make([]string, 0, s.recoveryCount)
	sealed = make([]string, 0, s.recoveryCount)
	for i := 0; i < s.recoveryCount; i++ {
		code, err := utils.NewCode(recoveryCodeLen)
		if err != nil {
			return nil, nil, err
		}
		ct, err := s.enc.Encrypt(code)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt recovery code: %w", err)
		}
		plain = append(plain, code)
		sealed = append(sealed, ct)
	}
	return plain, sealed, nil
}

// VerifyRecoveryCode consumes code if it is one of the user's remaining
// recovery codes. Entries that fail to decrypt are kept and skipped.
func (s *TwoFactorService) VerifyRecoveryCode(ctx context.Context, q repositories.Store, userID int64, code string) (bool, error) {
	want := []byte(strings.ToUpper(strings.TrimSpace(code)))
	if len(want) == 0 {
		return false, nil
	}
	matched := false
	err := q.WithTx(ctx, func(tx repositories.Store) error {
		user, err := tx.Users().GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		idx := -1
		for i, ct := range user.RecoveryCodesCipher {
			stored, err := s.enc.Decrypt(ct)
			if err != nil {
				log.Warn().Str("component", "2fa").Int64("user_id", userID).Int("index", i).Msg("skipping unreadable recovery code")
				continue
			}
			if subtle.ConstantTimeCompare([]byte(stored), want) == 1 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		remaining := make([]string, 0, len(user.RecoveryCodesCipher)-1)
		remaining = append(remaining, user.RecoveryCodesCipher[:idx]...)
		remaining = append(remaining, user.RecoveryCodesCipher[idx+1:]...)
		if err := tx.Users().SetRecoveryCodes(ctx, userID, remaining); err != nil {
			return err
		}
		matched = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("verify recovery code: %w", err)
	}
	return matched, nil
}

// RegenerateRecoveryCodes replaces the whole set and mails the new codes.
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID int64) (int, error) {
	plain, sealed, err := s.GenerateRecoveryCodes()
	if err != nil {
		return 0, err
	}
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	if err := s.store.Users().SetRecoveryCodes(ctx, userID, sealed); err != nil {
		return 0, fmt.Errorf("store recovery codes: %w", err)
	}
	s.notify.RecoveryCodes(ctx, user, plain)
	return len(plain), nil
}

// RemainingRecoveryCodes counts codes that still decrypt.
func (s *TwoFactorService) RemainingRecoveryCodes(user *models.User) int {
	n := 0
	for _, ct := range user.RecoveryCodesCipher {
		if _, err := s.enc.Decrypt(ct); err == nil {
			n++
		}
	}
	return n
}

// SetEnabled toggles 2FA. Disabling also drops any pending challenge.
func (s *TwoFactorService) SetEnabled(ctx context.Context, userID int64, enabled bool) error {
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		if err := tx.Users().SetTwoFactorEnabled(ctx, userID, enabled); err != nil {
			return err
		}
		if !enabled {
			return tx.Users().SetTwoFactorCode(ctx, userID, nil, nil, false)
		}
		return nil
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
