package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

func det(id int, r image.Rectangle, value string) vision.Detection {
	return vision.Detection{TrackingID: id, Bounds: r, RawValue: value, Format: "QR_CODE"}
}

func TestGraphicColorsCycle(t *testing.T) {
	m := NewManager(2)
	for id := 1; id <= 4; id++ {
		m.OnDetectionAppeared(id, det(id, image.Rect(0, 0, 10, 10), ""))
	}
	g := m.Graphics()
	want := []color.RGBA{graphicColors[0], graphicColors[1], graphicColors[2], graphicColors[0]}
	for i := range want {
		if g[i].Color() != want[i] {
			t.Errorf("graphic %d color = %v, want %v", g[i].ID(), g[i].Color(), want[i])
		}
	}
}

func TestListenerLifecycle(t *testing.T) {
	m := NewManager(2)
	m.OnDetectionAppeared(1, det(1, image.Rect(0, 0, 10, 10), "a"))
	m.OnDetectionMissing(1)
	if len(m.Detections()) != 0 {
		t.Error("missing detection should be hidden")
	}
	m.OnDetectionUpdated(1, det(1, image.Rect(5, 5, 15, 15), "a"))
	d := m.Detections()
	if len(d) != 1 || d[0].Bounds.Min.X != 5 {
		t.Errorf("updated detection = %+v", d)
	}
	m.OnDetectionLost(1)
	if len(m.Graphics()) != 0 {
		t.Error("lost detection should be removed")
	}
}

func TestSelect(t *testing.T) {
	m := NewManager(2)
	m.SetCameraInfo(100, 100, false)
	m.OnDetectionAppeared(1, det(1, image.Rect(0, 0, 20, 20), "left"))
	m.OnDetectionAppeared(2, det(2, image.Rect(60, 60, 90, 90), "right"))
	m.OnDetectionAppeared(3, det(3, image.Rect(30, 0, 50, 20), "hidden"))
	m.OnDetectionMissing(3)

	testCases := []struct {
		name   string
		x, y   int
		want   string
		wantOK bool
	}{
		{"inside left", 10, 10, "left", true},
		{"inside right", 75, 80, "right", true},
		{"nearest left", 25, 25, "left", true},
		{"nearest right", 95, 55, "right", true},
		{"hidden ignored", 40, 10, "left", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := m.Select(tc.x, tc.y)
			if ok != tc.wantOK || d.RawValue != tc.want {
				t.Errorf("Select(%d,%d) = %q, %v, want %q", tc.x, tc.y, d.RawValue, ok, tc.want)
			}
		})
	}

	m.ClearGraphics()
	if _, ok := m.Select(10, 10); ok {
		t.Error("Select on an empty overlay should find nothing")
	}
}

func TestTranslateScalesAndMirrors(t *testing.T) {
	m := NewManager(2)
	m.SetCameraInfo(640, 480, false)
	m.SetViewSize(1280, 960)
	if got := m.TranslateX(100); got != 200 {
		t.Errorf("TranslateX(100) = %d, want 200", got)
	}
	if got := m.TranslateY(100); got != 200 {
		t.Errorf("TranslateY(100) = %d, want 200", got)
	}

	m.SetCameraInfo(640, 480, true)
	if got := m.TranslateX(100); got != 1080 {
		t.Errorf("mirrored TranslateX(100) = %d, want 1080", got)
	}

	// a box on the left of a mirrored preview is tapped on the right
	m.OnDetectionAppeared(1, det(1, image.Rect(0, 0, 100, 100), "front"))
	if d, ok := m.Select(1200, 100); !ok || d.RawValue != "front" {
		t.Errorf("mirrored Select = %q, %v", d.RawValue, ok)
	}
}

func TestRenderDrawsBoxes(t *testing.T) {
	m := NewManager(3)
	m.SetCameraInfo(100, 100, false)
	m.OnDetectionAppeared(1, det(1, image.Rect(10, 10, 60, 60), "hello"))

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	if err := m.Render(img); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := img.RGBAAt(10, 30); got != graphicColors[0] {
		t.Errorf("left edge pixel = %v, want %v", got, graphicColors[0])
	}
	if got := img.RGBAAt(30, 30); got.A != 0 {
		t.Errorf("box interior should be untouched, got %v", got)
	}

	m.SetEnabled(false)
	blank := image.NewRGBA(image.Rect(0, 0, 100, 100))
	m.Render(blank)
	if blank.RGBAAt(10, 30).A != 0 {
		t.Error("disabled overlay must not draw")
	}
}

func TestLoadFromConfig(t *testing.T) {
	m := NewManager(2)
	status := func() string { return "2 codes" }
	m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "hint", "text": "Tap a code", "x": 5, "y": 5},
		{"type": "status", "id": "status", "x": 5.0, "y": 30.0},
		{"type": "text", "id": "empty"},
		{"type": "clock", "id": "clock"},
		{"id": "untyped"},
	}, status)

	if _, ok := m.GetWidget("hint"); !ok {
		t.Error("text widget not loaded")
	}
	w, ok := m.GetWidget("status")
	if !ok {
		t.Fatal("status widget not loaded")
	}
	if text := w.(*TextWidget).Text(); text != "2 codes" {
		t.Errorf("status text = %q", text)
	}
	for _, id := range []string{"empty", "clock", "untyped"} {
		if _, ok := m.GetWidget(id); ok {
			t.Errorf("widget %q should have been skipped", id)
		}
	}
	if len(m.ExportConfig()) != 2 {
		t.Errorf("exported %d widgets, want 2", len(m.ExportConfig()))
	}

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	if err := m.Render(img); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	// background box of the hint widget
	if img.RGBAAt(6, 6).A == 0 {
		t.Error("text widget background not drawn")
	}
}
