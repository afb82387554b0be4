package display

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/BurntSushi/xgb/xproto"
)

// pixmapFormat is the server's layout for images at the root depth
type pixmapFormat struct {
	bitsPerPixel int
	scanlinePad  int
}

func findPixmapFormat(setup *xproto.SetupInfo, depth byte) (pixmapFormat, error) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return pixmapFormat{
				bitsPerPixel: int(f.BitsPerPixel),
				scanlinePad:  int(f.ScanlinePad),
			}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no format found for depth %d", depth)
}

// stride is the padded scanline length in bytes
func (f pixmapFormat) stride(width int) int {
	unpadded := width * f.bitsPerPixel / 8
	pad := f.scanlinePad / 8
	if pad <= 1 {
		return unpadded
	}
	return ((unpadded + pad - 1) / pad) * pad
}

// letterbox scales src into dst with nearest-neighbour sampling, keeping
// the aspect ratio and filling the borders black
func letterbox(dst, src *image.RGBA) image.Rectangle {
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	sb, db := src.Bounds(), dst.Bounds()
	if sb.Empty() || db.Empty() {
		return image.Rectangle{}
	}

	scaleX := float64(db.Dx()) / float64(sb.Dx())
	scaleY := float64(db.Dy()) / float64(sb.Dy())
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}
	dw := int(float64(sb.Dx()) * scale)
	dh := int(float64(sb.Dy()) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	ox := db.Min.X + (db.Dx()-dw)/2
	oy := db.Min.Y + (db.Dy()-dh)/2
	rect := image.Rect(ox, oy, ox+dw, oy+dh)

	for dy := 0; dy < dh; dy++ {
		sy := sb.Min.Y + dy*sb.Dy()/dh
		for dx := 0; dx < dw; dx++ {
			sx := sb.Min.X + dx*sb.Dx()/dw
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(ox+dx, oy+dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return rect
}

// packPixels converts RGBA to the server's ZPixmap byte order (BGRx)
func packPixels(img *image.RGBA, f pixmapFormat, depth byte) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bpp := f.bitsPerPixel / 8
	if bpp != 3 && bpp != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bpp)
	}

	stride := f.stride(w)
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := y * stride
		for x := 0; x < w; x++ {
			si := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := row + x*bpp
			data[di] = img.Pix[si+2]
			data[di+1] = img.Pix[si+1]
			data[di+2] = img.Pix[si]
			if bpp == 4 && depth == 32 {
				data[di+3] = img.Pix[si+3]
			}
		}
	}
	return data, nil
}
