// Package pubsub is an in-process topic multiplexer used to deliver mutation
// results to active subscriptions.
package pubsub

import (
	"context"
	"sync"
)

// Publisher publishes payloads to named topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// DefaultBuffer is the per-subscriber channel capacity used by Subscribe.
const DefaultBuffer = 16

type subscriber struct {
	id uint64
	fn func(any)
}

// PubSub delivers every payload published on a topic to each subscriber of
// that topic, in publish order. The zero value is not usable; use New.
type PubSub struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscriber
	buffer int
}

// Option configures a PubSub.
type Option func(*PubSub)

// WithBuffer sets the channel capacity used by Subscribe.
func WithBuffer(n int) Option { return func(ps *PubSub) { ps.buffer = n } }

func New(opts ...Option) *PubSub {
	ps := &PubSub{topics: make(map[string][]subscriber), buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Publish hands payload to every current subscriber of topic. Callbacks run
// on the publishing goroutine.
func (ps *PubSub) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.mu.RLock()
	subs := append([]subscriber(nil), ps.topics[topic]...)
	ps.mu.RUnlock()
	for _, s := range subs {
		s.fn(payload)
	}
	return nil
}

// SubscribeFunc registers fn for topic and returns a function that removes
// it. This is the callback style used by Yoga-like servers.
func (ps *PubSub) SubscribeFunc(topic string, fn func(payload any)) (cancel func()) {
	ps.mu.Lock()
	ps.nextID++
	id := ps.nextID
	ps.topics[topic] = append(ps.topics[topic], subscriber{id: id, fn: fn})
	ps.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { ps.remove(topic, id) })
	}
}

func (ps *PubSub) remove(topic string, id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs := ps.topics[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(ps.topics, topic)
	} else {
		ps.topics[topic] = subs
	}
}

// Subscribe returns a channel of payloads published on topic. The channel is
// closed once ctx is done. This is the iterator style used by Apollo-like
// servers.
//
// Payloads are queued without bound while the receiver is slow, so a
// publisher is never blocked by a subscriber.
func (ps *PubSub) Subscribe(ctx context.Context, topic string) <-chan any {
	q := NewQueue()
	return q.Drain(ctx, ps.buffer, ps.SubscribeFunc(topic, q.Push))
}

// Topics returns the number of topics with at least one subscriber.
func (ps *PubSub) Topics() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics)
}

// Queue is an unbounded FIFO whose Push never blocks. Use it as a
// SubscribeFunc callback to decouple a slow receiver from the publisher.
type Queue struct {
	mu     sync.Mutex
	items  []any
	signal chan struct{}
}

func NewQueue() *Queue { return &Queue{signal: make(chan struct{}, 1)} }

func (q *Queue) Push(v any) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain forwards queued payloads to the returned channel, which has capacity
// buffer, until ctx is done. The cancel functions run before the channel is
// closed.
func (q *Queue) Drain(ctx context.Context, buffer int, cancels ...func()) <-chan any {
	out := make(chan any, buffer)
	go func() {
		defer close(out)
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
		}()
		for {
			payload, ok := q.pop(ctx)
			if !ok {
				return
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (q *Queue) pop(ctx context.Context) (any, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		q.mu.Unlock()
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}
