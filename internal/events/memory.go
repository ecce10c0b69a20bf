package events

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus and KV used by tests and single-node
// deployments without Redis. Each stream keeps its full append-only history
// so tests can assert on emitted events.
type MemoryBus struct {
	mu      sync.Mutex
	streams map[string][]Event
	groups  map[string]map[string]chan Event
	keys    map[string]memoryKey
}

type memoryKey struct {
	value     string
	expiresAt time.Time
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		streams: make(map[string][]Event),
		groups:  make(map[string]map[string]chan Event),
		keys:    make(map[string]memoryKey),
	}
}

// Publish appends the event and fans it out to every consumer group on the
// stream. Full group buffers drop the oldest entry, mirroring capped
// streams.
func (b *MemoryBus) Publish(_ context.Context, stream string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streams[stream] = append(b.streams[stream], ev)
	for _, ch := range b.groups[stream] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Consume delivers events published after the group joined. Exactly one
// consumer per group receives each event; concurrent consumers of the same
// group share the channel.
func (b *MemoryBus) Consume(ctx context.Context, stream, group, _ string, handler Handler) error {
	ch := b.groupChannel(stream, group)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			// Redelivery is the caller's concern; in-memory delivery is
			// at-most-once.
			_ = handler(ctx, ev)
		}
	}
}

func (b *MemoryBus) groupChannel(stream, group string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.groups[stream] == nil {
		b.groups[stream] = make(map[string]chan Event)
	}
	ch, ok := b.groups[stream][group]
	if !ok {
		ch = make(chan Event, 256)
		b.groups[stream][group] = ch
	}
	return ch
}

// Events returns a copy of the stream history.
func (b *MemoryBus) Events(stream string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.streams[stream]
	out := make([]Event, len(history))
	copy(out, history)
	return out
}

// EventsOfType filters the stream history by event type.
func (b *MemoryBus) EventsOfType(stream, eventType string) []Event {
	var out []Event
	for _, ev := range b.Events(stream) {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Clear drops all stream history and keys.
func (b *MemoryBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = make(map[string][]Event)
	b.keys = make(map[string]memoryKey)
}

// SetKey stores a value with a TTL (zero means no expiry).
func (b *MemoryBus) SetKey(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := memoryKey{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	b.keys[key] = entry
	return nil
}

// GetKey fetches a value, reporting absence without error.
func (b *MemoryBus) GetKey(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.keys[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(b.keys, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// DeleteKey removes a key.
func (b *MemoryBus) DeleteKey(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key)
	return nil
}
