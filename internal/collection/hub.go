package collection

import (
	"context"
	"sync"
)

// HubBuffer is how many undelivered events a subscription may hold before
// the hub drops it.
const HubBuffer = 64

// Hub fans change events out to per-source subscriptions. Backends that can
// observe their own writes, or that receive changes from elsewhere, embed
// one to implement Subscriber.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSubscription]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

// Subscribe registers a subscription for source. It is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, source string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &hubSubscription{
		hub:    h,
		source: source,
		events: make(chan ChangeEvent, HubBuffer),
	}
	h.mu.Lock()
	if h.subs[source] == nil {
		h.subs[source] = make(map[*hubSubscription]struct{})
	}
	h.subs[source][sub] = struct{}{}
	h.mu.Unlock()
	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// Publish delivers ev to every subscriber of its source without blocking.
// A subscription whose buffer is full is closed, so its reader sees the
// stream end and can reload. Publish returns how many were dropped.
func (h *Hub) Publish(ev ChangeEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for sub := range h.subs[ev.Source] {
		select {
		case sub.events <- ev:
		default:
			h.removeLocked(sub)
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the number of open subscriptions for source.
func (h *Hub) Subscribers(source string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[source])
}

// removeLocked unregisters sub and closes its channel. Sends only happen
// under h.mu, so the close cannot race a send.
func (h *Hub) removeLocked(sub *hubSubscription) {
	set, ok := h.subs[sub.source]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.source)
	}
	close(sub.events)
}

type hubSubscription struct {
	hub    *Hub
	source string
	events chan ChangeEvent
}

func (s *hubSubscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close is idempotent and safe after the hub dropped the subscription.
func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	s.hub.removeLocked(s)
	s.hub.mu.Unlock()
	return nil
}
