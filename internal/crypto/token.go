package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// AgentTokenBytes is the entropy of an agent token; its hex form is twice as long.
const AgentTokenBytes = 32

// GenerateAgentToken returns a new random agent token of 64 lowercase hex characters.
func GenerateAgentToken() (string, error) {
	b := make([]byte, AgentTokenBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate agent token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokensEqual compares a presented token with the stored one in constant time.
// An empty stored token never matches.
func TokensEqual(stored, presented string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
