// Package retrieval runs a single create or read attempt against a
// store.Store and reports where it ended up.
package retrieval

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
	"secretly.share/internal/store"
)

// State of one retrieval attempt. Nothing is persisted between Pending
// and the terminal state.
type State int

const (
	Pending State = iota
	Delivered
	NotFound
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s != Pending
}

// Outcome is the result of one attempt. Payload is set only when
// Delivered; Err only when Failed.
type Outcome struct {
	State   State
	Payload *models.Payload
	Err     error
}

type Protocol struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{store: s, log: log}
}

// Create validates and persists a new secret. Validation failures never
// reach the store.
func (p *Protocol) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	id, err := p.store.Create(ctx, ciphertext, iv)
	if err != nil {
		p.log.Error("create secret failed", zap.Error(err))
		return "", err
	}

	p.log.Debug("secret created", zap.Int("ciphertext_len", len(ciphertext)))
	return id, nil
}

// Retrieve consumes the secret identified by id.
func (p *Protocol) Retrieve(ctx context.Context, id string) Outcome {
	out := Outcome{State: Pending}

	payload, err := p.store.Consume(ctx, id)
	switch {
	case err == nil:
		out.State = Delivered
		out.Payload = payload
	case errors.Is(err, store.ErrNotFound):
		out.State = NotFound
	default:
		out.State = Failed
		out.Err = err
	}

	if out.State == Failed {
		p.log.Error("retrieve secret failed", zap.Error(err))
	} else {
		p.log.Debug("retrieve secret", zap.Stringer("state", out.State))
	}
	return out
}
