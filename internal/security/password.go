package security

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password using bcrypt with the default cost.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// VerifyPassword compares a candidate with a bcrypt hash. An empty hash
// never matches.
func VerifyPassword(hash []byte, candidate string) bool {
	if len(hash) == 0 || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}
