package barcode

import (
	"image"
	"testing"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// nv21Scene places a QR code on a white NV21 frame at (ox, oy)
func nv21Scene(t *testing.T, text string, w, h, ox, oy, size int) vision.Frame {
	t.Helper()
	code, err := EncodeQR(text, size)
	if err != nil {
		t.Fatalf("EncodeQR failed: %v", err)
	}
	data := make([]byte, vision.NV21.FrameSize(w, h))
	for i := 0; i < w*h; i++ {
		data[i] = 0xff
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	b := code.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			data[(oy+y)*w+ox+x] = code.GrayAt(x, y).Y
		}
	}
	return vision.Frame{Data: data, Width: w, Height: h, Format: vision.NV21, ID: 1}
}

func TestEncodeQR(t *testing.T) {
	img, err := EncodeQR("scanstreamer", 120)
	if err != nil {
		t.Fatalf("EncodeQR failed: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 120 {
		t.Errorf("bounds = %v, want 120x120", img.Bounds())
	}
	// quiet zone
	if img.GrayAt(0, 0).Y != 0xff {
		t.Error("corner should be white")
	}

	if _, err := EncodeQR("x", 0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestQRDetectorFindsCode(t *testing.T) {
	d := NewQRDetector(true)
	defer d.Release()

	frame := nv21Scene(t, "https://example.com/item/42", 320, 240, 60, 20, 200)
	dets, err := d.ReceiveFrame(frame)
	if err != nil {
		t.Fatalf("ReceiveFrame failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	if dets[0].RawValue != "https://example.com/item/42" {
		t.Errorf("RawValue = %q", dets[0].RawValue)
	}
	if dets[0].Format != "QR_CODE" {
		t.Errorf("Format = %q", dets[0].Format)
	}
	if !dets[0].Bounds.Overlaps(image.Rect(60, 20, 260, 220)) {
		t.Errorf("Bounds %v do not overlap the code", dets[0].Bounds)
	}
}

func TestQRDetectorEmptyFrame(t *testing.T) {
	d := NewQRDetector(false)
	defer d.Release()

	const w, h = 64, 48
	data := make([]byte, vision.NV21.FrameSize(w, h))
	dets, err := d.ReceiveFrame(vision.Frame{Data: data, Width: w, Height: h, Format: vision.NV21})
	if err != nil {
		t.Fatalf("blank frame should not be an error: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("got %d detections on a blank frame", len(dets))
	}
}

func TestQRDetectorReleased(t *testing.T) {
	d := NewQRDetector(false)
	d.Release()
	d.Release()
	if _, err := d.ReceiveFrame(vision.Frame{}); err == nil {
		t.Error("expected error after Release")
	}
}
