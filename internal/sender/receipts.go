package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

const (
	receiptPrefix     = "lifecycle:receipt:"
	DefaultReceiptTTL = 7 * 24 * time.Hour
)

// ReceiptCache wraps a Sender and remembers delivered idempotency keys in
// Redis. A key is stored only after a successful send, so failures stay
// retryable and a retried success is not delivered twice.
type ReceiptCache struct {
	next   Sender
	client *redis.Client
	ttl    time.Duration
}

func NewReceiptCache(next Sender, client *redis.Client, ttl time.Duration) *ReceiptCache {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &ReceiptCache{next: next, client: client, ttl: ttl}
}

// Delivered reports whether key was already sent.
func (c *ReceiptCache) Delivered(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, receiptPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *ReceiptCache) Send(ctx context.Context, msg domain.Message) error {
	if msg.IdempotencyKey == "" {
		return c.next.Send(ctx, msg)
	}
	done, err := c.Delivered(ctx, msg.IdempotencyKey)
	if err != nil {
		// Redis down: fall through to the receiver's own de-duplication.
		logger.Warn("sender: receipt lookup failed", "key", msg.IdempotencyKey, "error", err.Error())
	} else if done {
		logger.Debug("sender: key already delivered", "key", msg.IdempotencyKey)
		return nil
	}

	if err := c.next.Send(ctx, msg); err != nil {
		return err
	}
	if err := c.client.Set(ctx, receiptPrefix+msg.IdempotencyKey, time.Now().UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		logger.Warn("sender: receipt not stored", "key", msg.IdempotencyKey, "error", err.Error())
	}
	return nil
}

// Forget drops a receipt so the key can be delivered again.
func (c *ReceiptCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, receiptPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return nil
}
