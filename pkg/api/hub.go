package api

import (
	"sync"

	"dev/bravebird/mar-export/pkg/models"
)

const subscriberBuffer = 64

// Hub fans progress events out to WebSocket subscribers. It implements
// chunking.Publisher and never blocks the run: a subscriber that falls
// behind loses events.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan models.ProgressEvent]struct{} // by run ID, "" = every run
	last map[string]models.ProgressEvent
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan models.ProgressEvent]struct{}),
		last: make(map[string]models.ProgressEvent),
	}
}

// Publish delivers ev to the subscribers of its run and of all runs
func (h *Hub) Publish(ev models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[ev.RunID] = ev
	for _, key := range []string{ev.RunID, ""} {
		for ch := range h.subs[key] {
			select {
			case ch <- ev:
			default:
			}
		}
		if ev.RunID == "" {
			break
		}
	}
}

// Subscribe returns a channel of events for runID ("" for all runs) and a
// function that unsubscribes and closes it.
func (h *Hub) Subscribe(runID string) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan models.ProgressEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[runID], ch)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Last returns the most recent event of a run seen by this process
func (h *Hub) Last(runID string) (models.ProgressEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.last[runID]
	return ev, ok
}

// Subscribers counts open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.subs {
		n += len(s)
	}
	return n
}
