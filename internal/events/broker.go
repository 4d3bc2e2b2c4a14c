// Package events fans archive changes out to live subscribers. With redis
// configured, every instance publishes through one pub/sub channel and
// relays what it receives, so all instances see all changes.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"msgarchive/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisChannel     = "msgarchive:events"
	subscriberBuffer = 16
)

// Event types.
const (
	MessageCreated   = "message.created"
	MessageUpdated   = "message.updated"
	MessageDeleted   = "message.deleted"
	ThreadDeleted    = "thread.deleted"
	ThreadRenamed    = "thread.renamed"
	MessagesImported = "messages.imported"
)

// Event is a change notification. Clients refetch what they need.
type Event struct {
	Type  string    `json:"type"`
	Phone string    `json:"phone,omitempty"`
	ID    string    `json:"id,omitempty"`
	Count int64     `json:"count,omitempty"`
	At    time.Time `json:"at"`
}

// Broker delivers events to in-process subscribers. It is safe for
// concurrent use.
type Broker struct {
	client *redis.Client

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int

	cancel    context.CancelFunc
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBroker builds a broker. A nil client keeps delivery in-process.
func NewBroker(client *redis.Client) *Broker {
	b := &Broker{
		client: client,
		subs:   make(map[int]chan Event),
		closed: make(chan struct{}),
	}
	if client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		ps, err := client.Subscribe(ctx, redisChannel)
		if err != nil {
			slog.Error("events: redis subscribe failed, falling back to local delivery", "err", err)
			cancel()
			close(b.done)
			b.client = nil
			return b
		}
		go b.listen(ctx, ps.Channel(), func() { ps.Close() })
	}
	return b
}

func (b *Broker) listen(ctx context.Context, ch <-chan *goredis.Message, closeFn func()) {
	defer close(b.done)
	defer closeFn()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("events: decode failed", "err", err)
				continue
			}
			b.fanout(ev)
		}
	}
}

// Publish delivers ev to every subscriber, through redis when configured.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if b.client != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("events: marshal failed", "err", err)
			return
		}
		err = b.client.Publish(ctx, redisChannel, payload)
		if err == nil {
			return
		}
		slog.Warn("events: redis publish failed, delivering locally", "err", err)
	}
	b.fanout(ev)
}

// Subscribe registers a listener. The returned func unregisters it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) fanout(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("events: subscriber lagging, event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

// Done is closed once the broker is closed. Subscribers stop on it.
func (b *Broker) Done() <-chan struct{} {
	return b.closed
}

// Close stops the redis listener, if any, and closes Done. Repeated calls
// are no-ops.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		close(b.closed)
		if b.cancel != nil {
			b.cancel()
			<-b.done
		}
	})
}
