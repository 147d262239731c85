// Package sha256 provides SHA-256 hashing utilities for blob keys and font
// cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectKey builds a content-addressed blob path: prefix/kind/<digest><ext>.
func ObjectKey(prefix, kind, digest, ext string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if k := strings.Trim(kind, "/"); k != "" {
		parts = append(parts, k)
	}
	parts = append(parts, digest+ext)
	return path.Join(parts...)
}
