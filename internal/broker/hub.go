// Package broker fans published payloads out to topic subscribers.
//
// Hub is the in-process registry every realtime connection subscribes
// through. RedisRelay sits in front of a Hub when several server
// instances share one set of topics.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrDuplicateSubscription = errors.New("subscription id already in use")
	ErrSubscriberClosed      = errors.New("subscriber closed")
)

// Publisher delivers a payload to every subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload json.RawMessage) error
}

// Subscriber is one connection's delivery queue. Frames arrive already
// encoded; the channel returned by Send is closed when the hub drops the
// subscriber.
type Subscriber struct {
	ID   string
	send chan []byte

	closed  bool // guarded by Hub.mu
	evicted atomic.Bool
}

func NewSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{ID: id, send: make(chan []byte, buffer)}
}

func (s *Subscriber) Send() <-chan []byte {
	return s.send
}

// Evicted reports whether the hub dropped the subscriber for falling
// behind, as opposed to an ordinary RemoveSubscriber. It is set before
// the queue is closed, so a reader that sees the close also sees the flag.
func (s *Subscriber) Evicted() bool {
	return s.evicted.Load()
}

// Hub maps topics to subscriptions. A subscriber may hold several
// subscriptions, each identified by the id the client chose.
type Hub struct {
	mu sync.Mutex
	// topic -> subscriber -> subscription id
	topics map[string]map[*Subscriber]string
	// subscriber -> subscription id -> topic
	subscribers map[*Subscriber]map[string]string
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics:      make(map[string]map[*Subscriber]string),
		subscribers: make(map[*Subscriber]map[string]string),
		logger:      logger,
	}
}

// Subscribe registers subscriptionID on topic for sub. Subscribing the
// same subscriber to the same topic twice replaces the earlier id.
func (h *Hub) Subscribe(sub *Subscriber, subscriptionID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return ErrSubscriberClosed
	}
	subs, ok := h.subscribers[sub]
	if !ok {
		subs = make(map[string]string)
		h.subscribers[sub] = subs
	}
	if existing, ok := subs[subscriptionID]; ok && existing != topic {
		return ErrDuplicateSubscription
	}

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*Subscriber]string)
		h.topics[topic] = members
	}
	if previous, ok := members[sub]; ok && previous != subscriptionID {
		delete(subs, previous)
	}
	members[sub] = subscriptionID
	subs[subscriptionID] = topic
	return nil
}

// Unsubscribe drops one subscription. Unknown ids are ignored.
func (h *Hub) Unsubscribe(sub *Subscriber, subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[sub]
	topic, ok := subs[subscriptionID]
	if !ok {
		return
	}
	delete(subs, subscriptionID)
	h.removeFromTopicLocked(sub, topic)
}

// RemoveSubscriber drops every subscription sub holds and closes its
// queue. It is safe to call more than once.
func (h *Hub) RemoveSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers payload to the local subscribers of topic.
func (h *Hub) Publish(_ context.Context, topic string, payload json.RawMessage) error {
	h.Deliver(topic, payload)
	return nil
}

// Deliver enqueues a MESSAGE frame for every subscriber of topic and
// returns how many received it.
//
// Enqueueing never blocks. Deliver runs under the hub lock and is called
// from every publishing connection, so waiting on one full queue would
// stall the whole channel behind its slowest reader. A subscriber whose
// queue is full is instead evicted: it keeps the frames already queued,
// then its socket is closed with a try-again-later status and the client
// is expected to reconnect.
func (h *Hub) Deliver(topic string, payload json.RawMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.topics[topic]
	if len(members) == 0 {
		return 0
	}

	delivered := 0
	var slow []*Subscriber
	for sub, subscriptionID := range members {
		frame, err := wire.Encode(wire.Message(subscriptionID, topic, payload))
		if err != nil {
			h.logger.Error("failed to encode delivery", zap.String("topic", topic), zap.Error(err))
			return delivered
		}
		select {
		case sub.send <- frame:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}

	for _, sub := range slow {
		h.logger.Warn("evicting slow subscriber",
			zap.String("subscriber", sub.ID),
			zap.String("topic", topic),
		)
		h.evictLocked(sub)
	}
	return delivered
}

// SendTo enqueues an already encoded frame for sub alone, such as a reply
// to its own request. It reports false when sub is closed or too slow, in
// which case sub is removed.
func (h *Hub) SendTo(sub *Subscriber, frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return false
	}
	select {
	case sub.send <- frame:
		return true
	default:
		h.logger.Warn("evicting slow subscriber", zap.String("subscriber", sub.ID))
		h.evictLocked(sub)
		return false
	}
}

// SubscriberCount reports how many subscribers topic has.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) evictLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.evicted.Store(true)
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	for _, topic := range h.subscribers[sub] {
		h.removeFromTopicLocked(sub, topic)
	}
	delete(h.subscribers, sub)
	sub.closed = true
	close(sub.send)
}

func (h *Hub) removeFromTopicLocked(sub *Subscriber, topic string) {
	members := h.topics[topic]
	delete(members, sub)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}
