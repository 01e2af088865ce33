package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultDeviceName is used when the client sends no X-Device-Name header.
const DefaultDeviceName = "Web App"

func NewRefreshToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32 // 64 hex chars
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewCode returns an uppercase alphanumeric code of length n.
func NewCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// Fingerprint identifies a device as sha256(ip|user-agent|device-name).
func Fingerprint(ip, userAgent, deviceName string) string {
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + deviceName))
	return hex.EncodeToString(sum[:])
}

// HashToken is the lookup key stored for single-use tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
