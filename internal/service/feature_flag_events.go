package service

import (
	"sync"
	"time"

	"github.com/sandeepkv93/labflags/internal/domain"
)

type FlagEventType string

const (
	FlagEventUpdated    FlagEventType = "updated"
	FlagEventAdded      FlagEventType = "added"
	FlagEventSynced     FlagEventType = "synced"
	FlagEventRolledBack FlagEventType = "rolled_back"
	FlagEventRefreshed  FlagEventType = "refreshed"
	FlagEventCleared    FlagEventType = "cleared"
)

// FlagEvent notifies observers of table changes. Key and Flag are empty for table-wide events.
type FlagEvent struct {
	Type FlagEventType
	Key  string
	Flag *domain.FlagDefinition
	At   time.Time
}

type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan FlagEvent
}

// Subscribe returns a buffered event channel and a cancel func that closes it.
// Events are dropped for subscribers whose buffer is full.
func (r *FeatureFlagResolver) Subscribe(buffer int) (<-chan FlagEvent, func()) {
	return r.events.subscribe(buffer)
}

func (h *eventHub) subscribe(buffer int) (<-chan FlagEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan FlagEvent, buffer)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = map[int]chan FlagEvent{}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *eventHub) publish(ev FlagEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
