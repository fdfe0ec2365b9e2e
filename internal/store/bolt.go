package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
)

var bucketSecrets = []byte("secrets")

var _ Store = (*BoltStore)(nil)

// BoltStore keeps gob-encoded secrets in a bbolt file. bbolt admits one
// read-write transaction at a time, so Consume holds an exclusive lock
// from read through commit.
type BoltStore struct {
	db     *bbolt.DB
	policy lifecycle.Policy
	now    func() time.Time
}

// NewBoltStore opens or creates the database at path. The parent
// directory is created if it does not exist.
func NewBoltStore(path string, policy lifecycle.Policy) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, storageErr("open", fmt.Errorf("create directory: %w", err))
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, storageErr("open", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSecrets)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, storageErr("open", fmt.Errorf("create bucket: %w", err))
	}

	return &BoltStore{db: db, policy: policy, now: time.Now}, nil
}

func (s *BoltStore) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSecrets)

		id = idgen.New()
		for attempt := 1; b.Get([]byte(id)) != nil; attempt++ {
			if attempt >= createAttempts {
				return errDuplicateID
			}
			id = idgen.New()
		}

		now := s.now()
		data, err := encodeSecret(&models.Secret{
			ID:             id,
			Ciphertext:     ciphertext,
			IV:             iv,
			ViewsRemaining: lifecycle.InitialViews,
			CreatedAt:      now,
			ExpiresAt:      s.policy.ExpiresAt(now),
		})
		if err != nil {
			return fmt.Errorf("encode secret: %w", err)
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return "", storageErr("create", err)
	}
	return id, nil
}

func (s *BoltStore) Consume(ctx context.Context, id string) (*models.Payload, error) {
	var payload *models.Payload

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		secret, err := decodeSecret(data)
		if err != nil {
			return fmt.Errorf("decode secret: %w", err)
		}
		if !lifecycle.Retrievable(secret.ViewsRemaining, secret.ExpiresAt, s.now()) {
			return ErrNotFound
		}

		secret.ViewsRemaining--
		updated, err := encodeSecret(secret)
		if err != nil {
			return fmt.Errorf("encode secret: %w", err)
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}

		payload = &models.Payload{Ciphertext: secret.Ciphertext, IV: secret.IV}
		return nil
	})

	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, storageErr("consume", err)
	}
	return payload, nil
}

func (s *BoltStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	var deleted int64
	now := s.now()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSecrets)

		// Collect first: deleting under a live cursor skips keys.
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			secret, err := decodeSecret(v)
			if err != nil {
				return fmt.Errorf("decode secret %q: %w", k, err)
			}
			if lifecycle.Sweepable(secret.ViewsRemaining, secret.CreatedAt, secret.ExpiresAt, now, retention) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = int64(len(doomed))
		return nil
	})
	if err != nil {
		return 0, storageErr("sweep", err)
	}
	return deleted, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSecrets) == nil {
			return fmt.Errorf("bucket %q missing", bucketSecrets)
		}
		return nil
	})
	if err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func encodeSecret(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSecret(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, err
	}
	return &secret, nil
}
