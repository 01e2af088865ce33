package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryption is returned for any ciphertext that cannot be opened.
// Callers treat it as "no match", never as plaintext.
var ErrDecryption = errors.New("decryption failed")

const nonceSize = 24

// Encrypter seals short secrets (refresh tokens, recovery codes) for
// storage at rest.
type Encrypter struct {
	key [32]byte
}

// NewEncrypter derives the box key from the application key with HKDF.
func NewEncrypter(appKey string) (*Encrypter, error) {
	if len(appKey) < 16 {
		return nil, fmt.Errorf("app key too short")
	}
	e := &Encrypter{}
	r := hkdf.New(sha256.New, []byte(appKey), nil, []byte("invento at-rest v1"))
	if _, err := io.ReadFull(r, e.key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return e, nil
}

func (e *Encrypter) Encrypt(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &e.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *Encrypter) Decrypt(cipherText string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cipherText)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecryption
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &e.key)
	if !ok {
		return "", ErrDecryption
	}
	return string(plain), nil
}
