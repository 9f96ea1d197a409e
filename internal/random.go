package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	// AutologinCodeLength is the length of the rotating cookie autologin code.
	AutologinCodeLength = 20

	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// RandomCode returns n characters drawn uniformly from [a-zA-Z0-9] using
// crypto/rand.
func RandomCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid code length")
	}

	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NewAutologinCode returns a fresh autologin code.
func NewAutologinCode() (string, error) {
	return RandomCode(AutologinCodeLength)
}

// RandomToken returns size random bytes as unpadded base64url.
func RandomToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
