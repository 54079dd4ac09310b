// Package activity implements the Activity Stream: a typed, single-threaded
// cooperative event bus with scoped (parent/child) fan-out and memory-safe
// listener management.
package activity

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// listenerWarnThreshold is the per-event-type subscriber count above which a
// leak warning is logged, once.
const listenerWarnThreshold = 50

// wildcardType subscribes a handler to every event type.
const wildcardType models.EventType = "*"

// Handler receives one event. Handlers must not panic; the stream recovers
// and logs a panicking handler rather than letting it break the fan-out for
// the remaining subscribers.
type Handler func(models.Event)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Stream is the activity bus. The zero value is not usable; use New.
type Stream struct {
	mu       sync.Mutex
	subs     map[models.EventType]map[int64]Handler
	nextSub  int64
	warned   map[models.EventType]bool
	parentID string
	root     *Stream
	logger   *slog.Logger
}

// New creates a root Stream.
func New(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		subs:   make(map[models.EventType]map[int64]Handler),
		warned: make(map[models.EventType]bool),
		logger: logger,
	}
	s.root = s
	return s
}

// Subscribe registers handler for type t, or for every event type when t is
// "*". The returned Unsubscribe removes the handler; it is safe to call more
// than once.
func (s *Stream) Subscribe(t models.EventType, h Handler) Unsubscribe {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	bucket, ok := s.subs[t]
	if !ok {
		bucket = make(map[int64]Handler)
		s.subs[t] = bucket
	}
	bucket[id] = h
	count := len(bucket)
	shouldWarn := count > listenerWarnThreshold && !s.warned[t]
	if shouldWarn {
		s.warned[t] = true
	}
	s.mu.Unlock()

	if shouldWarn {
		s.logger.Warn("activity stream: listener count exceeds threshold, possible leak",
			"event_type", t, "count", count, "threshold", listenerWarnThreshold)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if bucket, ok := s.subs[t]; ok {
				delete(bucket, id)
			}
			s.mu.Unlock()
		})
	}
}

// Emit delivers event e synchronously, in subscription order, first to
// handlers subscribed to e.Type then to wildcard handlers. A handler that
// panics is recovered and logged; it does not interrupt delivery to the
// remaining handlers.
func (s *Stream) Emit(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	handlers := collectOrdered(s.subs[e.Type])
	wildcard := collectOrdered(s.subs[wildcardType])
	s.mu.Unlock()

	for _, h := range handlers {
		s.dispatch(h, e)
	}
	for _, h := range wildcard {
		s.dispatch(h, e)
	}
}

func (s *Stream) dispatch(h Handler, e models.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("activity stream: handler panicked", "recover", r, "event_type", e.Type)
		}
	}()
	h(e)
}

// collectOrdered returns handlers from bucket in ascending subscription-id
// order so a single subscriber always observes its own events in FIFO order.
func collectOrdered(bucket map[int64]Handler) []Handler {
	if len(bucket) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = bucket[id]
	}
	return out
}

// CreateScoped returns a child Stream whose EmitScoped stamps parentID onto
// events that carry none and forwards the stamped event to the root stream.
// Subscriptions made on the child only observe events emitted through that
// child: a stream scoped from the child forwards straight to the root, so its
// events do not reach the child's subscribers. Subscriptions on the root
// observe everything.
func (s *Stream) CreateScoped(parentID string) *Stream {
	child := &Stream{
		subs:     make(map[models.EventType]map[int64]Handler),
		warned:   make(map[models.EventType]bool),
		parentID: parentID,
		root:     s.root,
		logger:   s.logger,
	}
	return child
}

// Emit on a scoped stream stamps ParentID, delivers locally to the scoped
// stream's own subscribers, then forwards to the root.
func (s *Stream) EmitScoped(e models.Event) {
	if s.parentID != "" && e.ParentID == "" {
		e.ParentID = s.parentID
	}
	s.Emit(e)
	if s.root != s {
		s.root.Emit(e)
	}
}

// Cleanup clears every subscription on this stream. Scoped streams are
// independently cleanable; cleaning a child never affects the root's
// subscribers.
func (s *Stream) Cleanup() {
	s.mu.Lock()
	s.subs = make(map[models.EventType]map[int64]Handler)
	s.warned = make(map[models.EventType]bool)
	s.mu.Unlock()
}

// sequence is retained for components (e.g. tool executors) that want a
// monotonic, cheap correlation id in addition to the uuid-based Event.ID.
var sequence int64

// NextSequence returns a process-wide monotonically increasing counter.
func NextSequence() int64 {
	return atomic.AddInt64(&sequence, 1)
}
