package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex hashes input with SHA-256 and returns the lowercase hex digest.
// Row and rule identifiers are content hashes, so the encoding must stay
// stable across releases.
func Sha256Hex(input string) string {
	digest := sha256.Sum256([]byte(input))
	return hex.EncodeToString(digest[:])
}
