// Package auth issues and verifies per-slot credentials. The secret handed to
// a joining player is a uuid; only its bcrypt hash is ever persisted.
package auth

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator compares a submitted secret against a stored hash. It is a
// func type so deployments can swap the comparison scheme.
type Authenticator func(submitted, storedHash string) bool

// Default verifies a uuid secret against its bcrypt hash.
var Default Authenticator = func(submitted, storedHash string) bool {
	if submitted == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(submitted)) == nil
}

// NewCredentials returns a fresh secret for a joining player.
func NewCredentials() string {
	return uuid.NewString()
}

// Hash derives the storable form of a secret.
func Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
