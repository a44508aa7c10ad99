// Package auth is the authentication collaborator: opaque create/verify
// over a password-derived record. The repository core stores and clears the
// record but never inspects it.
package auth

import "golang.org/x/crypto/bcrypt"

// Create derives the opaque authentication record for a password.
func Create(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether the password matches the stored record.
func Verify(record, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(record), []byte(password)) == nil
}
