// Package idgen produces opaque, URL-safe secret identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	// 128 bits of entropy. For 1e9 ids the birthday bound is ~1.5e-21.
	idBytes = 16

	// Length of an encoded id.
	Length = 22
)

// New returns a fresh random identifier.
func New() string {
	bytes := make([]byte, idBytes)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// Valid reports whether id has the shape of something New could return.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
