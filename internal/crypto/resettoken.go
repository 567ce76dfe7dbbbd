package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ResetTokenBytes is the entropy of a reset token: 32 bytes, 64 hex chars.
const ResetTokenBytes = 32

// GenerateResetToken creates a random reset token and its SHA-256 hash.
// The plaintext goes to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating reset token: %w", err)
	}

	token = hex.EncodeToString(buf)
	return token, HashResetToken(token), nil
}

// HashResetToken returns the hex SHA-256 of a plaintext reset token.
// Reset tokens carry full entropy, so a fast unsalted hash is enough.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
