// Package lifecycle holds the rules that decide whether a stored secret
// may still be read, and the shape limits applied before anything is
// stored.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxCiphertextLen is the largest accepted decoded ciphertext.
	MaxCiphertextLen = 10 * 1024 * 1024

	// IVLen is the AES-GCM nonce size clients encrypt with.
	IVLen = 12

	// InitialViews is the view budget of a freshly created secret.
	InitialViews = 1

	DefaultTTL = 1 * time.Hour
)

var ErrValidation = errors.New("validation failed")

// Validate checks the ciphertext and IV against the size policy.
func Validate(ciphertext, iv []byte) error {
	if len(ciphertext) > MaxCiphertextLen {
		return fmt.Errorf("%w: ciphertext exceeds maximum size of %d bytes", ErrValidation, MaxCiphertextLen)
	}
	if len(iv) != IVLen {
		return fmt.Errorf("%w: iv must be exactly %d bytes", ErrValidation, IVLen)
	}
	return nil
}

// Retrievable reports whether a secret with the given state can be
// delivered at instant now. now must come from the store's clock.
func Retrievable(viewsRemaining int, expiresAt, now time.Time) bool {
	return viewsRemaining > 0 && now.Before(expiresAt)
}

// Policy carries the creation-time parameters of a secret.
type Policy struct {
	TTL time.Duration
}

func Default() Policy {
	return Policy{TTL: DefaultTTL}
}

func (p Policy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(p.TTL)
}

// Sweepable reports whether a non-retrievable secret has outlived the
// audit retention window and may be physically removed.
func Sweepable(viewsRemaining int, createdAt, expiresAt, now time.Time, retention time.Duration) bool {
	if Retrievable(viewsRemaining, expiresAt, now) {
		return false
	}
	return !createdAt.After(now.Add(-retention))
}
