// Package canonical provides deterministic JSON serialization for
// evidence hashing. Semantically equal payloads always produce the
// same bytes, so a stored hash can be recomputed and compared later.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the canonical JSON encoding of v: object keys
// sorted by UTF-8 code point, RFC 8785 number formatting, no HTML
// escaping, terminated by a single newline.
func Canonicalize(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return CanonicalizeBytes(data)
}

// CanonicalizeBytes re-canonicalizes raw JSON text. Useful when the
// payload is already serialized, e.g. verifying a stored bundle.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return append(out, '\n'), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
