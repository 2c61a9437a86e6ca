package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Size is the length of a hex-encoded digest
const Size = sha256.Size * 2

// Sum returns the hex-encoded SHA-256 digest of data
func Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SumReader hashes everything read from r
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize lowercases a digest and strips an optional "sha256:" or "0x" prefix
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "sha256:")
	return strings.TrimPrefix(s, "0x")
}

// Valid reports whether s is a well-formed hex digest
func Valid(s string) bool {
	s = Normalize(s)
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Equal compares two digests in constant time
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(Normalize(a)), []byte(Normalize(b))) == 1
}
