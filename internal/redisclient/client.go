package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLockScript deletes a lock only while it still holds our token, so an
// expired lease taken over by another instance is left alone.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb   *redis.Client
	owner string
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:   rdb,
		owner: uuid.New().String(),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks that Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// RememberOrder stores the order created for an idempotency key with TTL.
// An existing key is not overwritten.
func (c *Client) RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.SetNX(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// LookupOrder returns the order created for an idempotency key, if any
func (c *Client) LookupOrder(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency key %q: %w", key, err)
	}
	return orderID, true, nil
}

// AcquireLock acquires a distributed lock held by this client until ttl expires
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), c.owner, ttl).Result()
}

// ReleaseLock releases a distributed lock if this client still holds it
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return releaseLockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, c.owner).Err()
}
