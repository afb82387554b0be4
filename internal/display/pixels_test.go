package display

import (
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
)

func TestLetterbox(t *testing.T) {
	tests := []struct {
		name     string
		src, dst image.Point
		want     image.Rectangle
	}{
		{"same aspect", image.Pt(320, 240), image.Pt(640, 480), image.Rect(0, 0, 640, 480)},
		{"pillarbox", image.Pt(240, 320), image.Pt(640, 480), image.Rect(140, 0, 500, 480)},
		{"letterbox", image.Pt(400, 100), image.Pt(200, 200), image.Rect(0, 75, 200, 125)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.src.X, tt.src.Y))
			for i := range src.Pix {
				src.Pix[i] = 0xff
			}
			dst := image.NewRGBA(image.Rect(0, 0, tt.dst.X, tt.dst.Y))

			got := letterbox(dst, src)
			if got != tt.want {
				t.Fatalf("letterbox rect = %v, want %v", got, tt.want)
			}
			if c := dst.RGBAAt(got.Min.X, got.Min.Y); c != (color.RGBA{255, 255, 255, 255}) {
				t.Errorf("inside pixel = %v, want white", c)
			}
			if got.Min.X > 0 {
				if c := dst.RGBAAt(0, 0); c != (color.RGBA{0, 0, 0, 255}) {
					t.Errorf("border pixel = %v, want black", c)
				}
			}
		})
	}
}

func TestPackPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	img.SetRGBA(2, 1, color.RGBA{R: 7, G: 8, B: 9, A: 255})

	f := pixmapFormat{bitsPerPixel: 32, scanlinePad: 32}
	data, err := packPixels(img, f, 24)
	if err != nil {
		t.Fatalf("packPixels: %v", err)
	}
	if len(data) != 12*2 {
		t.Fatalf("len = %d, want 24", len(data))
	}
	if data[0] != 3 || data[1] != 2 || data[2] != 1 || data[3] != 0 {
		t.Errorf("first pixel = %v, want BGRx 3 2 1 0", data[:4])
	}
	last := 12 + 2*4
	if data[last] != 9 || data[last+1] != 8 || data[last+2] != 7 {
		t.Errorf("last pixel = %v", data[last:last+4])
	}

	f = pixmapFormat{bitsPerPixel: 24, scanlinePad: 32}
	if got := f.stride(3); got != 12 {
		t.Errorf("24bpp stride(3) = %d, want 12", got)
	}
	if _, err := packPixels(img, pixmapFormat{bitsPerPixel: 16, scanlinePad: 32}, 16); err == nil {
		t.Error("16bpp should be rejected")
	}
}

func TestManagerWithoutServer(t *testing.T) {
	m := NewManager(config.PreviewConfig{})
	if m.width != 1280 || m.height != 720 {
		t.Errorf("default window = %dx%d", m.width, m.height)
	}
	if m.IsRunning() {
		t.Fatal("new manager should not be running")
	}
	if err := m.Bind(output.Geometry{Width: 640, Height: 480}); err == nil {
		t.Error("Bind before Start should fail")
	}
	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))); err == nil {
		t.Error("WriteFrame before Start should fail")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop on idle manager: %v", err)
	}
}
