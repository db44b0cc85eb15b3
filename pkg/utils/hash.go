package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns a hex sha256 digest of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// CacheKey joins a prefix with the digest of the remaining parts, e.g.
// CacheKey("embedding", model, text) -> "embedding:<sha256(model\x00text)>".
func CacheKey(prefix string, parts ...string) string {
	return prefix + ":" + HashString(strings.Join(parts, "\x00"))
}
