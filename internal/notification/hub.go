// Package notification fans appointment events out to the live streams each
// doctor currently has open.
package notification

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultBufferSize = 64

// Subscription is one open delivery endpoint for a doctor, typically one
// browser tab or device.
type Subscription struct {
	doctorID uuid.UUID
	events   chan Event
	done     chan struct{}
	once     sync.Once
	hub      *Hub
}

// Events yields events until the subscription is closed, at which point the
// channel is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the subscription has been removed from the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) DoctorID() uuid.UUID {
	return s.doctorID
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.Unregister(s.doctorID, s)
}

// Hub maps doctor ids to their open subscriptions. All operations are safe
// for concurrent use.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[*Subscription]struct{}
	closed     bool
	bufferSize int
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.Named("hub"),
	}
}

// Register opens a subscription for doctorID. Cancelling ctx unregisters it,
// so a transport only has to tie ctx to its connection. Registering on a
// closed hub returns an already-closed subscription.
func (h *Hub) Register(ctx context.Context, doctorID uuid.UUID) *Subscription {
	sub := &Subscription{
		doctorID: doctorID,
		events:   make(chan Event, h.bufferSize),
		done:     make(chan struct{}),
		hub:      h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.finish()
		return sub
	}
	if h.subs[doctorID] == nil {
		h.subs[doctorID] = make(map[*Subscription]struct{})
	}
	h.subs[doctorID][sub] = struct{}{}
	count := len(h.subs[doctorID])
	h.mu.Unlock()

	h.logger.Debug("subscription registered",
		zap.Stringer("doctor_id", doctorID),
		zap.Int("subscriptions", count),
	)

	go func() {
		select {
		case <-ctx.Done():
			h.Unregister(doctorID, sub)
		case <-sub.done:
		}
	}()

	return sub
}

// Unregister removes sub and drops the doctor key once it has no
// subscriptions left. Unknown or already removed subscriptions are ignored.
func (h *Hub) Unregister(doctorID uuid.UUID, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[doctorID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, doctorID)
	}
	// Senders hold the read lock, so closing here cannot race a send.
	sub.finish()

	h.logger.Debug("subscription removed",
		zap.Stringer("doctor_id", doctorID),
		zap.Int("subscriptions", len(subs)),
	)
}

var _ Notifier = (*Hub)(nil)

// Notify pushes ev to every subscription of doctorID. With no subscriber the
// event is dropped; a subscriber whose buffer is full misses it. It never
// blocks, so it never fails.
func (h *Hub) Notify(_ context.Context, doctorID uuid.UUID, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.subs[doctorID]
	if !ok {
		h.logger.Debug("no subscriber, event dropped",
			zap.Stringer("doctor_id", doctorID),
			zap.String("type", string(ev.Type)),
			zap.Stringer("appointment_id", ev.AppointmentID),
		)
		return nil
	}

	for sub := range subs {
		select {
		case sub.events <- ev:
		default:
			h.logger.Debug("subscriber buffer full, event dropped",
				zap.Stringer("doctor_id", doctorID),
				zap.Stringer("appointment_id", ev.AppointmentID),
			)
		}
	}
	return nil
}

// Close removes every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for doctorID, subs := range h.subs {
		for sub := range subs {
			sub.finish()
		}
		delete(h.subs, doctorID)
	}
}

func (h *Hub) SubscriberCount(doctorID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[doctorID])
}

func (h *Hub) DoctorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) finish() {
	s.once.Do(func() {
		close(s.events)
		close(s.done)
	})
}
