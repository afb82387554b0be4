package scanner

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// Event types published to subscribers
const (
	EventAppeared = "appeared"
	EventLost     = "lost"
	EventSelected = "selected"
	EventStarted  = "started"
	EventStopped  = "stopped"
)

// Event is a detection or lifecycle notification
type Event struct {
	Type       string            `json:"type"`
	TrackingID int               `json:"tracking_id,omitempty"`
	Detection  *vision.Detection `json:"detection,omitempty"`
	Time       time.Time         `json:"time"`
}

// hub fans events out to subscribers. A subscriber that falls behind
// misses events instead of blocking the pipeline.
type hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
