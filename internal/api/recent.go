package api

import (
	"sync"

	"github.com/labdns/labdnsd/internal/eventbus"
)

// recentRing keeps the last N completed queries for /api/recent.
type recentRing struct {
	mu     sync.Mutex
	events []eventbus.QueryEvent
	max    int
}

func newRecentRing(max int) *recentRing {
	return &recentRing{max: max}
}

// follow drains a query-event subscription into the ring until the
// subscription's context ends.
func (r *recentRing) follow(sub *eventbus.Subscriber) {
	go func() {
		for ev := range sub.Ch {
			if qe, ok := ev.Data.(eventbus.QueryEvent); ok {
				r.add(qe)
			}
		}
	}()
}

func (r *recentRing) add(ev eventbus.QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
}

// list returns the ring newest-first.
func (r *recentRing) list() []eventbus.QueryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.QueryEvent, len(r.events))
	for i, ev := range r.events {
		out[len(r.events)-1-i] = ev
	}
	return out
}
