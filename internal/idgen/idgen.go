// Package idgen generates random identifiers for assessments and requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// prefixedBytes is the entropy behind WithPrefix IDs.
const prefixedBytes = 12

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped request ID: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func New() string {
	b := random(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 hex chars, e.g. "rsk_3f9c...".
// The result always passes validation.IsValidID for an alphanumeric prefix.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(random(prefixedBytes))
}

// Hex returns numBytes of randomness hex-encoded.
func Hex(numBytes int) string {
	return hex.EncodeToString(random(numBytes))
}
