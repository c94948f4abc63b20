// Package events provides the progress event broadcaster of sync runs.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/pkg/models"
)

const (
	EventRunStarted    = "run_started"
	EventListingFailed = "listing_failed"
	EventResolved      = "resolved"
	EventItem          = "item"
	EventRunFinished   = "run_finished"
)

// Event is one progress notification. Item events carry the item's new
// status; Index is zero-based and Total is the number of work items.
type Event struct {
	Type      string           `json:"type"`
	RunID     string           `json:"run_id"`
	ProjectID int              `json:"project_id,omitempty"`
	Index     int              `json:"index"`
	Total     int              `json:"total"`
	Status    string           `json:"status,omitempty"`
	Label     string           `json:"label,omitempty"`
	FileName  string           `json:"file_name,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Item      *models.WorkItem `json:"-"`
	Timestamp int64            `json:"timestamp"`
}

// ItemStatus parses the Status field back into a models.Status.
func (e Event) ItemStatus() models.Status {
	for s := models.StatusPending; s <= models.StatusSkipped; s++ {
		if s.String() == e.Status {
			return s
		}
	}
	return models.StatusPending
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetProgressSubscribers(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetProgressSubscribers(int64(b.Count()))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordProgressEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
