// Package sha256 names archived pages by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

var _ tracker.Hasher = Hasher{}

// Hasher returns hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash never fails; the error satisfies tracker.Hasher.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
