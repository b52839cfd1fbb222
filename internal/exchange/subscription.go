package exchange

import (
	"sync"

	"trustmesh/go-backend/pkg/models"
)

const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventCleared = "cleared"
	EventStatus  = "status"
)

// Event is one mailbox or connectivity change delivered to subscribers.
// Notification is set for record events, Status for EventStatus.
type Event struct {
	Account      string
	Kind         string
	Notification models.Notification
	Status       *models.NetworkStatus
}

// subscriberHub fans events out to per-account subscribers. Delivery is
// best effort: a subscriber that stops draining its channel loses
// events instead of blocking the exchange path.
type subscriberHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers for the account's events. The returned cancel
// func closes the channel and must be called exactly once.
func (h *subscriberHub) Subscribe(account string) (<-chan Event, func()) {
	key := accountKey(account)
	ch := make(chan Event, 32)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]chan Event)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[key][id]; ok {
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			close(sub)
		}
	}
	return ch, cancel
}

func (h *subscriberHub) Publish(ev Event) {
	key := accountKey(ev.Account)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Broadcast sends the event to every subscriber regardless of account.
func (h *subscriberHub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, bySub := range h.subs {
		for _, ch := range bySub {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
