package booking

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const (
	accessCodeLength   = 8
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewAccessCode returns 8 uppercase alphanumeric characters drawn from crypto/rand.
func NewAccessCode() (string, error) {
	size := big.NewInt(int64(len(accessCodeAlphabet)))
	b := make([]byte, accessCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// codesEqual compares in time independent of where the codes differ.
func codesEqual(supplied, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}
