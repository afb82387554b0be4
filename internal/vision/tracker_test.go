package vision

import (
	"errors"
	"image"
	"testing"
)

type event struct {
	kind string
	id   int
}

type recordingListener struct {
	events []event
}

func (l *recordingListener) OnDetectionAppeared(id int, d Detection) {
	l.events = append(l.events, event{"appeared", id})
}

func (l *recordingListener) OnDetectionUpdated(id int, d Detection) {
	l.events = append(l.events, event{"updated", id})
}

func (l *recordingListener) OnDetectionLost(id int) {
	l.events = append(l.events, event{"lost", id})
}

func (l *recordingListener) OnDetectionMissing(id int) {
	l.events = append(l.events, event{"missing", id})
}

func qr(value string) Detection {
	return Detection{Bounds: image.Rect(0, 0, 10, 10), RawValue: value, Format: "QR_CODE"}
}

func TestTrackerLifecycle(t *testing.T) {
	l := &recordingListener{}
	tr := NewTracker(l, 1)

	got := tr.Update([]Detection{qr("a")})
	if len(got) != 1 || got[0].TrackingID != 1 {
		t.Fatalf("first update = %+v", got)
	}
	got = tr.Update([]Detection{qr("a"), qr("b")})
	if got[0].TrackingID != 1 || got[1].TrackingID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", got[0].TrackingID, got[1].TrackingID)
	}

	tr.Update([]Detection{qr("b")}) // a missing once
	tr.Update([]Detection{qr("b")}) // a lost

	want := []event{
		{"appeared", 1},
		{"updated", 1}, {"appeared", 2},
		{"updated", 2}, {"missing", 1},
		{"updated", 2}, {"lost", 1},
	}
	if len(l.events) != len(want) {
		t.Fatalf("events = %v, want %v", l.events, want)
	}
	for i := range want {
		if l.events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, l.events[i], want[i])
		}
	}

	active := tr.Active()
	if len(active) != 1 || active[0].RawValue != "b" {
		t.Errorf("Active = %+v", active)
	}
}

func TestTrackerReturnAfterMissing(t *testing.T) {
	l := &recordingListener{}
	tr := NewTracker(l, 3)

	tr.Update([]Detection{qr("a")})
	tr.Update(nil)
	got := tr.Update([]Detection{qr("a")})
	if got[0].TrackingID != 1 {
		t.Errorf("returning code should keep id 1, got %d", got[0].TrackingID)
	}
}

func TestTrackerDuplicateValues(t *testing.T) {
	tr := NewTracker(nil, 0)
	got := tr.Update([]Detection{qr("x"), qr("x")})
	if got[0].TrackingID == got[1].TrackingID {
		t.Error("duplicate codes in one frame need distinct ids")
	}
}

func TestTrackerReset(t *testing.T) {
	l := &recordingListener{}
	tr := NewTracker(l, 5)
	tr.Update([]Detection{qr("a"), qr("b")})
	l.events = nil

	tr.Reset()
	if len(l.events) != 2 || len(tr.Active()) != 0 {
		t.Errorf("Reset events = %v, active = %d", l.events, len(tr.Active()))
	}
}

type stubDetector struct {
	dets     []Detection
	err      error
	released bool
}

func (s *stubDetector) ReceiveFrame(Frame) ([]Detection, error) { return s.dets, s.err }
func (s *stubDetector) Release()                                { s.released = true }

func TestTrackingDetector(t *testing.T) {
	inner := &stubDetector{dets: []Detection{qr("a")}}
	d := NewTrackingDetector(inner, NewTracker(nil, 0))

	got, err := d.ReceiveFrame(Frame{})
	if err != nil || len(got) != 1 || got[0].TrackingID != 1 {
		t.Fatalf("ReceiveFrame = %+v, %v", got, err)
	}

	inner.err = errors.New("decode failed")
	if _, err := d.ReceiveFrame(Frame{}); err == nil {
		t.Error("expected inner error")
	}
	if len(d.Tracker().Active()) != 1 {
		t.Error("failed frame must not drop tracks")
	}

	d.Release()
	if !inner.released || len(d.Tracker().Active()) != 0 {
		t.Error("Release must release inner detector and clear tracks")
	}
}
