package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue publishes run handoffs onto a named Redis list. The worker
// side consumes with a blocking pop; redelivery on worker failure is the
// broker deployment's concern, not this client's.
type RedisQueue struct {
	client  *redis.Client
	name    string
	timeout time.Duration
}

// RedisOptions configures the Redis-backed queue.
type RedisOptions struct {
	// Client is the Redis connection. Required; the caller owns its
	// lifecycle.
	Client *redis.Client
	// Name is the list the worker consumes from. Required.
	Name string
	// OperationTimeout bounds individual enqueue operations. Zero means no
	// timeout beyond the caller's context.
	OperationTimeout time.Duration
}

// NewRedisQueue constructs a Redis-backed queue.
func NewRedisQueue(opts RedisOptions) (*RedisQueue, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return &RedisQueue{
		client:  opts.Client,
		name:    opts.Name,
		timeout: opts.OperationTimeout,
	}, nil
}

// Enqueue pushes the message onto the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("enqueue run %s: %w", msg.WorkflowID, err)
	}
	return nil
}

// Close is a no-op because the caller owns the Redis connection.
func (q *RedisQueue) Close() error {
	return nil
}
