// Package uid provides unique identifier generation for file storage.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New generates a 32-character hex string suitable for temp file names.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// NewUUID returns a random (version 4) UUID in canonical form.
func NewUUID() string {
	return uuid.NewString()
}

// Strip removes the dashes from a UUID string.
func Strip(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
