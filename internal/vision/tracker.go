package vision

import (
	"sort"
	"strconv"
	"sync"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
)

type track struct {
	id      int
	det     Detection
	missing int
}

// Tracker follows detections across frames by format and raw value,
// assigning stable tracking ids and notifying a Listener.
//
// A detection that disappears is reported missing on the first absent
// frame and lost once it has been absent for more than maxMissing frames.
type Tracker struct {
	mu         sync.Mutex
	listener   Listener
	maxMissing int
	nextID     int
	tracks     map[string]*track
}

// NewTracker creates a tracker. listener may be nil.
func NewTracker(listener Listener, maxMissing int) *Tracker {
	if maxMissing < 0 {
		maxMissing = 0
	}
	return &Tracker{
		listener:   listener,
		maxMissing: maxMissing,
		tracks:     make(map[string]*track),
	}
}

// Update matches one frame's detections against the live tracks and
// returns them with tracking ids filled in.
func (t *Tracker) Update(dets []Detection) []Detection {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(dets))
	occurrences := make(map[string]int, len(dets))
	out := make([]Detection, 0, len(dets))

	for _, d := range dets {
		key := d.Format + "\x00" + d.RawValue
		// identical codes in one frame get their own tracks
		if n := occurrences[key]; n > 0 {
			occurrences[key] = n + 1
			key += "#" + strconv.Itoa(n)
		} else {
			occurrences[key] = 1
		}
		seen[key] = true

		tr, ok := t.tracks[key]
		if !ok {
			t.nextID++
			tr = &track{id: t.nextID}
			t.tracks[key] = tr
			d.TrackingID = tr.id
			tr.det = d
			logger.WithComponent("tracker").Debug().
				Int("tracking_id", tr.id).
				Str("value", d.RawValue).
				Msg("New detection")
			if t.listener != nil {
				t.listener.OnDetectionAppeared(tr.id, d)
			}
		} else {
			d.TrackingID = tr.id
			tr.det = d
			tr.missing = 0
			if t.listener != nil {
				t.listener.OnDetectionUpdated(tr.id, d)
			}
		}
		out = append(out, d)
	}

	for key, tr := range t.tracks {
		if seen[key] {
			continue
		}
		tr.missing++
		if tr.missing > t.maxMissing {
			delete(t.tracks, key)
			logger.WithComponent("tracker").Debug().
				Int("tracking_id", tr.id).
				Msg("Detection lost")
			if t.listener != nil {
				t.listener.OnDetectionLost(tr.id)
			}
			continue
		}
		if tr.missing == 1 {
			if ml, ok := t.listener.(MissingListener); ok {
				ml.OnDetectionMissing(tr.id)
			}
		}
	}

	return out
}

// Active returns the detections currently tracked, ordered by id
func (t *Tracker) Active() []Detection {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Detection, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, tr.det)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingID < out[j].TrackingID })
	return out
}

// Reset drops every track, reporting each as lost
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, tr := range t.tracks {
		delete(t.tracks, key)
		if t.listener != nil {
			t.listener.OnDetectionLost(tr.id)
		}
	}
}

// TrackingDetector wraps a raw detector so its results carry tracking ids
type TrackingDetector struct {
	inner   Detector
	tracker *Tracker
}

// NewTrackingDetector wraps inner with tracker
func NewTrackingDetector(inner Detector, tracker *Tracker) *TrackingDetector {
	return &TrackingDetector{inner: inner, tracker: tracker}
}

// ReceiveFrame runs the inner detector and updates the tracker.
// A failed frame leaves the tracks untouched.
func (d *TrackingDetector) ReceiveFrame(frame Frame) ([]Detection, error) {
	dets, err := d.inner.ReceiveFrame(frame)
	if err != nil {
		return nil, err
	}
	return d.tracker.Update(dets), nil
}

// Tracker returns the underlying tracker
func (d *TrackingDetector) Tracker() *Tracker {
	return d.tracker
}

// Release releases the inner detector and drops all tracks
func (d *TrackingDetector) Release() {
	d.inner.Release()
	d.tracker.Reset()
}
