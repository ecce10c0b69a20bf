package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// payloadField is the single stream field carrying the JSON event.
	payloadField = "payload"
	// defaultMaxLen bounds stream growth; trimming is approximate.
	defaultMaxLen = 10000
	// readBlock is how long one XREADGROUP call waits for new entries.
	readBlock = 5 * time.Second
)

// RedisBus implements Bus and KV on Redis streams.
type RedisBus struct {
	client *redis.Client
	maxLen int64
}

// RedisBusOption configures the bus.
type RedisBusOption func(*RedisBus)

// WithMaxLen overrides the per-stream entry cap.
func WithMaxLen(n int64) RedisBusOption {
	return func(b *RedisBus) { b.maxLen = n }
}

// NewRedisBus creates a stream bus on an existing Redis connection.
func NewRedisBus(client *redis.Client, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{client: client, maxLen: defaultMaxLen}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends the event to the stream, trimming to the configured cap.
func (b *RedisBus) Publish(ctx context.Context, stream string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", stream, err)
	}
	return nil
}

// Consume joins the consumer group (creating it at the stream head if
// needed) and processes entries until ctx is cancelled. Events are
// acknowledged only after the handler succeeds, so unprocessed entries stay
// pending for redelivery.
func (b *RedisBus) Consume(ctx context.Context, stream, group, consumer string, handler Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", group, stream, err)
	}

	for {
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    16,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("reading %s: %w", stream, err)
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				ev, decodeErr := decodeMessage(msg)
				if decodeErr != nil {
					// Poison entry; ack so it does not wedge the group.
					_ = b.client.XAck(ctx, stream, group, msg.ID).Err()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					continue
				}
				_ = b.client.XAck(ctx, stream, group, msg.ID).Err()
			}
		}
	}
}

func decodeMessage(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return Event{}, fmt.Errorf("entry %s has no payload field", msg.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s payload is not a string", msg.ID)
	}
	var ev Event
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return Event{}, fmt.Errorf("decoding entry %s: %w", msg.ID, err)
	}
	return ev, nil
}

// SetKey stores a value with a TTL.
func (b *RedisBus) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// GetKey fetches a value, reporting absence without error.
func (b *RedisBus) GetKey(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// DeleteKey removes a key.
func (b *RedisBus) DeleteKey(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}
