package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier with an optional type prefix, in the
// shape compass uses throughout its tables ("prj_...", "doc_...", "sess_...").
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
