package password

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the default bcrypt cost
	DefaultCost = 12

	// MinSecretLength is the shortest accepted kiosk secret
	MinSecretLength = 16
)

// Hash hashes a kiosk secret using bcrypt
func Hash(secret string) (string, error) {
	return HashWithCost(secret, DefaultCost)
}

// HashWithCost hashes with an explicit bcrypt cost (tests use bcrypt.MinCost)
func HashWithCost(secret string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify compares a secret with a hash
func Verify(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// HashToken hashes a token using SHA256 (cache keys for verified kiosk secrets)
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateSecret checks if a kiosk secret meets requirements
func ValidateSecret(secret string) bool {
	return len(secret) >= MinSecretLength
}
