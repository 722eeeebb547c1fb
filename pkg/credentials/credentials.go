// Package credentials owns password hashing and API key generation.
//
// Passwords are hashed with bcrypt. API keys are random, prefixed tokens;
// the key itself is the lookup value in the user directory's by-api-key
// index, so it is stored verbatim rather than hashed.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix identifies Tome API keys
	APIKeyPrefix = "tome_"
	// apiKeyBytes is the number of random bytes per key (256 bits)
	apiKeyBytes = 32
)

// Hasher hashes and verifies passwords
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher creates a Hasher with the given bcrypt cost. A cost of zero
// selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// Used for verification when no user exists, so a missing username
	// costs the same wall time as a wrong password.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("tome-no-such-user"), cost)
	return &Hasher{cost: cost, dummyHash: dummy}
}

// Hash returns the bcrypt hash of a password
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether the password matches the stored hash
func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy burns a bcrypt comparison against a throwaway hash. Always
// returns false.
func (h *Hasher) VerifyDummy(password string) bool {
	bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	return false
}

// GenerateAPIKey creates a new API key.
// Format: tome_<base64url(32 random bytes)>
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, apiKeyBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// ValidateAPIKeyFormat checks if a key has the correct shape without
// touching storage
func ValidateAPIKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return fmt.Errorf("API key must start with %q", APIKeyPrefix)
	}

	encodedPart := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("API key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid API key encoding: %w", err)
	}

	return nil
}
