// Package barcode decodes and renders QR codes with gozxing.
package barcode

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// QRDetector implements vision.Detector on the luminance plane of each frame
type QRDetector struct {
	mu       sync.Mutex
	reader   gozxing.Reader
	hints    map[gozxing.DecodeHintType]interface{}
	released bool
}

// NewQRDetector creates a QR detector. tryHarder trades speed for accuracy.
func NewQRDetector(tryHarder bool) *QRDetector {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &QRDetector{
		reader: qrcode.NewQRCodeReader(),
		hints:  hints,
	}
}

// ReceiveFrame decodes at most one QR code. A frame without a readable
// code yields an empty result, not an error.
func (d *QRDetector) ReceiveFrame(frame vision.Frame) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, errors.New("qr detector released")
	}

	gray, err := frame.Luminance()
	if err != nil {
		return nil, err
	}
	return d.decode(gray)
}

func (d *QRDetector) decode(img image.Image) ([]vision.Detection, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to binarize frame: %w", err)
	}

	result, err := d.reader.Decode(bmp, d.hints)
	d.reader.Reset()
	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("qr decode failed: %w", err)
	}

	return []vision.Detection{{
		Bounds:   boundsOf(result.GetResultPoints(), img.Bounds()),
		RawValue: result.GetText(),
		Format:   result.GetBarcodeFormat().String(),
	}}, nil
}

// DecodeImage decodes a QR code from an arbitrary image
func (d *QRDetector) DecodeImage(img image.Image) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decode(img)
}

// Release marks the detector unusable
func (d *QRDetector) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.released {
		d.released = true
		logger.WithComponent("barcode").Debug().Msg("QR detector released")
	}
}

// boundsOf returns the box around the finder pattern centres, grown by an
// eighth of its size to cover the patterns themselves.
func boundsOf(points []gozxing.ResultPoint, frame image.Rectangle) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}

	margin := math.Max(maxX-minX, maxY-minY) / 8
	r := image.Rect(
		int(math.Floor(minX-margin)), int(math.Floor(minY-margin)),
		int(math.Ceil(maxX+margin)), int(math.Ceil(maxY+margin)),
	)
	return r.Intersect(frame)
}

// EncodeQR renders text as a size x size QR code, black on white
func EncodeQR(text string, size int) (*image.Gray, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid qr size: %d", size)
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("qr encode failed: %w", err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !matrix.Get(x, y) {
				img.Pix[y*img.Stride+x] = 0xff
			}
		}
	}
	return img, nil
}
