package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashStaffKey returns the bcrypt hash to put in STAFF_KEY_HASH.
func HashStaffKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

// CheckStaffKey reports whether key matches the bcrypt hash.
func CheckStaffKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
