package store

import (
	"context"
	"sync"
	"time"

	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps secrets in process memory. It is the source of truth
// for a single-node deployment and for tests; the map entry is the row.
type MemoryStore struct {
	secrets map[string]*models.Secret
	mu      sync.Mutex
	policy  lifecycle.Policy
	now     func() time.Time
	closed  bool
}

func NewMemoryStore(policy lifecycle.Policy) *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*models.Secret),
		policy:  policy,
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", storageErr("create", errClosed)
	}

	id := idgen.New()
	for attempt := 1; s.secrets[id] != nil; attempt++ {
		if attempt >= createAttempts {
			return "", storageErr("create", errDuplicateID)
		}
		id = idgen.New()
	}

	now := s.now()
	s.secrets[id] = &models.Secret{
		ID:             id,
		Ciphertext:     append([]byte(nil), ciphertext...),
		IV:             append([]byte(nil), iv...),
		ViewsRemaining: lifecycle.InitialViews,
		CreatedAt:      now,
		ExpiresAt:      s.policy.ExpiresAt(now),
	}
	return id, nil
}

func (s *MemoryStore) Consume(ctx context.Context, id string) (*models.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("consume", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storageErr("consume", errClosed)
	}

	secret, ok := s.secrets[id]
	if !ok || !lifecycle.Retrievable(secret.ViewsRemaining, secret.ExpiresAt, s.now()) {
		return nil, ErrNotFound
	}

	secret.ViewsRemaining--

	return &models.Payload{
		Ciphertext: append([]byte(nil), secret.Ciphertext...),
		IV:         append([]byte(nil), secret.IV...),
	}, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storageErr("sweep", errClosed)
	}

	now := s.now()
	var deleted int64
	for id, secret := range s.secrets {
		if lifecycle.Sweepable(secret.ViewsRemaining, secret.CreatedAt, secret.ExpiresAt, now, retention) {
			delete(s.secrets, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storageErr("ping", errClosed)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.secrets = nil
	return nil
}
