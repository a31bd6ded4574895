// Package auth checks the credentials a client presents in its init call.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nfrund/consoled/internal/domain"
)

// Predicate reports whether a username and password are acceptable.
type Predicate func(user, password string) bool

// Bcrypt accepts exactly one user whose password matches the bcrypt hash.
func Bcrypt(username, passwordHash string) Predicate {
	hash := []byte(passwordHash)
	return func(user, password string) bool {
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		err := bcrypt.CompareHashAndPassword(hash, []byte(password))
		return userOK && err == nil
	}
}

// Verify runs p and returns domain.ErrInvalidCredentials on rejection.
func Verify(p Predicate, user, password string) error {
	if p == nil || !p(user, password) {
		return domain.ErrInvalidCredentials
	}
	return nil
}

// HashPassword produces a hash suitable for CONSOLE_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
