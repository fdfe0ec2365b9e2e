// redis.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each secret in a hash. Exhausted secrets stay until
// their key expiry (expires_at + retention) so sweeping is native.
type RedisStore struct {
	client    *redis.Client
	policy    lifecycle.Policy
	retention time.Duration
}

func NewRedisStore(options *redis.Options, policy lifecycle.Policy, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("connect", err)
	}

	return &RedisStore{client: client, policy: policy, retention: retention}, nil
}

// Both scripts read the clock with TIME so every node agrees on expiry.
const redisNowMillis = `
redis.replicate_commands()
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
`

var createScript = redis.NewScript(redisNowMillis + `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local expires = now + tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'ct', ARGV[1], 'iv', ARGV[2], 'views', 1, 'created', now, 'expires', expires)
redis.call('PEXPIREAT', KEYS[1], math.max(expires, now) + tonumber(ARGV[4]))
return 1
`)

var consumeScript = redis.NewScript(redisNowMillis + `
local v = redis.call('HMGET', KEYS[1], 'views', 'expires', 'ct', 'iv')
if not v[1] then
	return false
end
if tonumber(v[1]) <= 0 or now >= tonumber(v[2]) then
	return false
end
redis.call('HINCRBY', KEYS[1], 'views', -1)
return {v[3], v[4]}
`)

func (r *RedisStore) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	for i := 0; i < createAttempts; i++ {
		id := idgen.New()
		created, err := createScript.Run(ctx, r.client, []string{secretKey(id)},
			ciphertext, iv, r.policy.TTL.Milliseconds(), r.retention.Milliseconds(),
		).Int()
		if err != nil {
			return "", storageErr("create", err)
		}
		if created == 1 {
			return id, nil
		}
	}

	return "", storageErr("create", errDuplicateID)
}

func (r *RedisStore) Consume(ctx context.Context, id string) (*models.Payload, error) {
	vals, err := consumeScript.Run(ctx, r.client, []string{secretKey(id)}).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, storageErr("consume", err)
	}
	if len(vals) != 2 {
		return nil, storageErr("consume", fmt.Errorf("unexpected script reply of %d values", len(vals)))
	}

	ciphertext, err := replyBytes(vals[0])
	if err != nil {
		return nil, storageErr("consume", err)
	}
	iv, err := replyBytes(vals[1])
	if err != nil {
		return nil, storageErr("consume", err)
	}

	return &models.Payload{Ciphertext: ciphertext, IV: iv}, nil
}

// Sweep is a no-op: Redis evicts keys at expires_at + retention.
func (r *RedisStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func replyBytes(v any) ([]byte, error) {
	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, errors.New("unexpected data type from script")
	}
}
