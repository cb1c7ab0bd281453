// Package sha256 provides content normalization and hashing for dedup keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements engine.Hasher using SHA-256 over normalized text.
type Hasher struct{}

// New returns a SHA-256 content hasher.
func New() *Hasher {
	return &Hasher{}
}

// Normalize collapses whitespace runs (including CR/LF/TAB) to single
// spaces, lower-cases, and trims so that formatting noise never changes
// the digest.
func Normalize(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(strings.ToLower(normalized))
}

// Sum hashes the normalized UTF-8 bytes of text and returns a hex digest.
// Equal normalized text yields an equal hash, independent of source URL.
func (Hasher) Sum(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
