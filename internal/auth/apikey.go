// Package auth provides API key generation and verification for the
// livescan control API. Keys are stored only as bcrypt hashes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "ls"

	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72

	minKeyLength = 15
	maxKeyLength = 50
)

var hashCost = BcryptCost

// GenerateAPIKey returns a new random key of the form ls_<base32>.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 has no ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}

	return APIKeyPrefix + "_" + randomPart, nil
}

// preHash keeps inputs within the bcrypt limit.
func preHash(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// HashAPIKey creates a bcrypt hash of an API key for the configuration file.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(preHash(apiKey), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks if a provided API key matches the stored hash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), preHash(apiKey)) == nil
}

// IsValidAPIKeyFormat checks if an API key has the correct format.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < minKeyLength || len(apiKey) > maxKeyLength {
		return false
	}

	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// DisplayPrefix returns a log-safe prefix of a key, e.g. "ls_abcdefgh...".
func DisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}

	random := strings.TrimPrefix(apiKey, APIKeyPrefix+"_")
	if len(random) > 8 {
		random = random[:8]
	}
	return fmt.Sprintf("%s_%s...", APIKeyPrefix, random)
}
