package vision

import (
	"fmt"
	"image"
	"image/color"
)

// PixelFormat identifies the byte layout of a preview frame
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	// NV21 is planar Y followed by interleaved V/U at quarter resolution
	NV21
	// NV12 is planar Y followed by interleaved U/V at quarter resolution
	NV12
	// YUYV is packed 4:2:2, two pixels per four bytes
	YUYV
)

// BitsPerPixel returns the average number of bits per pixel
func (p PixelFormat) BitsPerPixel() int {
	switch p {
	case NV21, NV12:
		return 12
	case YUYV:
		return 16
	default:
		return 0
	}
}

// FrameSize returns the number of bytes a w x h frame occupies,
// rounded up to a whole byte.
func (p PixelFormat) FrameSize(width, height int) int {
	bits := int64(width) * int64(height) * int64(p.BitsPerPixel())
	return int((bits + 7) / 8)
}

func (p PixelFormat) String() string {
	switch p {
	case NV21:
		return "NV21"
	case NV12:
		return "NV12"
	case YUYV:
		return "YUYV"
	default:
		return "unknown"
	}
}

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// FourCC returns the V4L2 pixel format code
func (p PixelFormat) FourCC() uint32 {
	switch p {
	case NV21:
		return fourcc('N', 'V', '2', '1')
	case NV12:
		return fourcc('N', 'V', '1', '2')
	case YUYV:
		return fourcc('Y', 'U', 'Y', 'V')
	default:
		return 0
	}
}

// FormatFromFourCC maps a V4L2 pixel format code to a PixelFormat
func FormatFromFourCC(code uint32) (PixelFormat, bool) {
	for _, f := range []PixelFormat{NV21, NV12, YUYV} {
		if f.FourCC() == code {
			return f, true
		}
	}
	return FormatUnknown, false
}

// Frame is one preview image handed to a Detector.
//
// Data aliases a pooled camera buffer and is only valid for the duration
// of the ReceiveFrame call. Detectors must copy anything they keep.
type Frame struct {
	Data            []byte
	Width           int
	Height          int
	Format          PixelFormat
	ID              uint64
	TimestampMillis int64
	Rotation        int // quarter turns clockwise
}

func (f Frame) check() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	need := f.Format.FrameSize(f.Width, f.Height)
	if need == 0 {
		return fmt.Errorf("unsupported pixel format %s", f.Format)
	}
	if len(f.Data) < need {
		return fmt.Errorf("frame %d: have %d bytes, need %d for %dx%d %s",
			f.ID, len(f.Data), need, f.Width, f.Height, f.Format)
	}
	return nil
}

// Luminance returns the Y plane as a gray image. The pixels are copied.
func (f Frame) Luminance() (*image.Gray, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	gray := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height

	switch f.Format {
	case NV21, NV12:
		copy(gray.Pix, f.Data[:n])
	case YUYV:
		for i := 0; i < n; i++ {
			gray.Pix[i] = f.Data[2*i]
		}
	}
	return gray, nil
}

// RGBA converts the frame to an RGBA image in sensor orientation
func (f Frame) RGBA() (*image.RGBA, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	w, h := f.Width, f.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yy, cb, cr := f.ycbcrAt(x, y)
			r, g, b := color.YCbCrToRGB(yy, cb, cr)
			o := img.PixOffset(x, y)
			img.Pix[o] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = 0xff
		}
	}
	return img, nil
}

func (f Frame) ycbcrAt(x, y int) (yy, cb, cr uint8) {
	w, h := f.Width, f.Height
	switch f.Format {
	case NV21, NV12:
		yy = f.Data[y*w+x]
		chroma := w * h
		// chroma rows are padded to an even width
		cw := (w + 1) &^ 1
		o := chroma + (y/2)*cw + (x/2)*2
		if o+1 >= len(f.Data) {
			return yy, 128, 128
		}
		if f.Format == NV21 {
			return yy, f.Data[o+1], f.Data[o]
		}
		return yy, f.Data[o], f.Data[o+1]
	case YUYV:
		yy = f.Data[2*(y*w+x)]
		pair := 4 * ((y*w + x) / 2)
		if pair+3 >= len(f.Data) {
			return yy, 128, 128
		}
		return yy, f.Data[pair+1], f.Data[pair+3]
	}
	return 0, 128, 128
}
