// Package events routes device and build events to subscribers by topic.
// Subscribers join topics by key (home, device/{id}, socket/{token}); an
// emitted event is delivered exactly once to each current member of its
// computed topic set, best-effort, with per-subscriber delivery order
// matching emission order.
package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/model"
)

// Well-known topic keys.
const (
	TopicHome = "home"
)

// TopicDevice returns the topic key for a single device's events.
func TopicDevice(id string) string { return "device/" + id }

// TopicSocket returns the point-to-point topic key for one subscriber.
func TopicSocket(token string) string { return "socket/" + token }

// RoutingError reports an event with no identifiable destination. This is
// a programming-contract violation and is returned to the emitter rather
// than silently dropping the event.
type RoutingError struct {
	Event model.Event
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("event %q has neither a device nor a target subscriber", e.Event.Type)
}

// Subscription is one connected subscriber: a buffered delivery channel
// plus the set of topics it has joined.
type Subscription struct {
	token  string
	ch     chan model.Event
	router *Router
}

// Token returns the subscriber's opaque connection token.
func (s *Subscription) Token() string { return s.token }

// Events is the subscriber's delivery channel. It is closed when the
// subscription is closed.
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Join adds the subscriber to a topic.
func (s *Subscription) Join(topic string) { s.router.join(s, topic) }

// Leave removes the subscriber from a topic.
func (s *Subscription) Leave(topic string) { s.router.leave(s, topic) }

// Close disconnects the subscriber, removing it from every topic. Events
// emitted after Close never reach the subscriber, even if the emission was
// logically in flight from the subscriber's perspective.
func (s *Subscription) Close() { s.router.close(s) }

// Router maintains topic membership and fans emitted events out to the
// matching subscriber set.
type Router struct {
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	subs   map[*Subscription][]string

	bufferSize int
	routed     func(eventType string)
	dropped    func(topic string)
}

// Option configures a Router.
type Option func(*Router)

// WithBufferSize sets the per-subscriber delivery buffer. A subscriber
// whose buffer is full misses events (at-most-once delivery).
func WithBufferSize(n int) Option {
	return func(r *Router) { r.bufferSize = n }
}

// WithRoutedCallback installs a hook invoked once per successfully routed
// event, regardless of how many subscribers receive it. Used for metrics.
func WithRoutedCallback(fn func(eventType string)) Option {
	return func(r *Router) { r.routed = fn }
}

// WithDropCallback installs a hook invoked when a delivery is dropped,
// used for metrics.
func WithDropCallback(fn func(topic string)) Option {
	return func(r *Router) { r.dropped = fn }
}

// NewRouter creates an event router.
func NewRouter(logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		logger:     logger,
		topics:     make(map[string]map[*Subscription]struct{}),
		subs:       make(map[*Subscription][]string),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a new subscriber under the given connection token.
// The subscriber starts with no topic membership except its own socket
// topic, which enables point-to-point delivery.
func (r *Router) Subscribe(token string) *Subscription {
	sub := &Subscription{
		token:  token,
		ch:     make(chan model.Event, r.bufferSize),
		router: r,
	}

	r.mu.Lock()
	r.subs[sub] = nil
	r.mu.Unlock()

	sub.Join(TopicSocket(token))
	return sub
}

// Emit routes an event to its subscriber set. An event with an explicit
// target is delivered to that one subscriber only, bypassing the device
// topic; otherwise a device event goes to both the device topic and the
// global topic. An event with neither is a routing error.
func (r *Router) Emit(ev model.Event) error {
	if ev.Now.IsZero() {
		ev.Now = time.Now()
	}

	var topics []string
	switch {
	case ev.To != "":
		topics = []string{TopicSocket(ev.To)}
	case ev.Device != "":
		topics = []string{TopicDevice(ev.Device), TopicHome}
	default:
		return &RoutingError{Event: ev}
	}

	if r.routed != nil {
		r.routed(ev.Type)
	}

	// Membership lookup and delivery happen under the same lock so a
	// subscriber mid-removal can never receive the event.
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := make(map[*Subscription]struct{})
	for _, topic := range topics {
		for sub := range r.topics[topic] {
			if _, done := delivered[sub]; done {
				continue
			}
			delivered[sub] = struct{}{}

			select {
			case sub.ch <- ev:
			default:
				if r.dropped != nil {
					r.dropped(topic)
				}
				r.logger.Warn("Dropped event for slow subscriber",
					zap.String("topic", topic),
					zap.String("subscriber", sub.token),
					zap.String("type", ev.Type),
				)
			}
		}
	}
	return nil
}

// SubscriberCount returns the number of connected subscribers.
func (r *Router) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Router) join(sub *Subscription, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, connected := r.subs[sub]; !connected {
		return
	}
	members, ok := r.topics[topic]
	if !ok {
		members = make(map[*Subscription]struct{})
		r.topics[topic] = members
	}
	members[sub] = struct{}{}
	r.subs[sub] = append(r.subs[sub], topic)
}

func (r *Router) leave(sub *Subscription, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMember(sub, topic)

	joined := r.subs[sub]
	for i, t := range joined {
		if t == topic {
			r.subs[sub] = append(joined[:i], joined[i+1:]...)
			break
		}
	}
}

func (r *Router) close(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, connected := r.subs[sub]
	if !connected {
		return
	}
	for _, topic := range joined {
		r.removeMember(sub, topic)
	}
	delete(r.subs, sub)
	close(sub.ch)
}

// removeMember must be called with the router lock held.
func (r *Router) removeMember(sub *Subscription, topic string) {
	if members, ok := r.topics[topic]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
}
