package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// listPusher is the slice of the Redis client the sink needs.
type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Redis appends JSON messages to a list that the chat front end drains.
type Redis struct {
	client listPusher
	closer func() error
	key    string
	source string
	now    func() time.Time
}

// NewRedis connects a Redis list sink.
func NewRedis(addr, key, source string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Redis{
		client: client,
		closer: client.Close,
		key:    key,
		source: source,
		now:    time.Now,
	}
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(Message{Source: r.source, Text: text, At: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("redis notify: encode: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, string(body)).Err(); err != nil {
		return fmt.Errorf("redis notify: rpush %s: %w", r.key, err)
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
