package services

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher is the one-way hash used for passwords and 2FA codes.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Check(hash, plain string) bool
}

type bcryptHasher struct {
	cost  int
	dummy []byte
}

// NewBcryptHasher builds a hasher; cost <= 0 selects bcrypt.DefaultCost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h := &bcryptHasher{cost: cost}
	// compared against when the email is unknown, so both paths pay for one bcrypt run
	h.dummy, _ = bcrypt.GenerateFromPassword([]byte("invento-dummy-password"), cost)
	return h
}

func (h *bcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// hashPassword hashes a new password and reports an over-long one as a
// validation error on field. The byte limit also catches multibyte input
// that fits the character limit of the request.
func hashPassword(h PasswordHasher, field, plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", passwordTooLong(field)
	}
	hash, err := h.Hash(plain)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", passwordTooLong(field)
	}
	return hash, err
}

func passwordTooLong(field string) *ValidationError {
	return fieldError(field, fmt.Sprintf("The %s may not be greater than %d bytes.", strings.ReplaceAll(field, "_", " "), MaxPasswordBytes))
}

func (h *bcryptHasher) Check(hash, plain string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
