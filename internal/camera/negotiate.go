package camera

import (
	"math"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

const aspectRatioTolerance = 0.01

// SizePair is a preview size with the picture size of the same aspect ratio
type SizePair struct {
	Preview Size
	Picture *Size
}

// generateValidPreviewSizes pairs each preview size with a picture size of
// the same aspect ratio. Previews without one are left out, unless no
// preview has one, in which case every preview is returned unpaired.
func generateValidPreviewSizes(previews, pictures []Size) []SizePair {
	var valid []SizePair
	for _, preview := range previews {
		if preview.Height == 0 {
			continue
		}
		previewRatio := float64(preview.Width) / float64(preview.Height)

		// the first matching picture size is taken, in device order
		for _, picture := range pictures {
			if picture.Height == 0 {
				continue
			}
			pictureRatio := float64(picture.Width) / float64(picture.Height)
			if math.Abs(previewRatio-pictureRatio) < aspectRatioTolerance {
				p := picture
				valid = append(valid, SizePair{Preview: preview, Picture: &p})
				break
			}
		}
	}

	if len(valid) == 0 {
		for _, preview := range previews {
			valid = append(valid, SizePair{Preview: preview})
		}
	}
	return valid
}

// selectSizePair picks the pair whose preview is closest to the requested
// size by |dw|+|dh|. Ties keep the earliest candidate.
func selectSizePair(previews, pictures []Size, width, height int) (SizePair, bool) {
	var (
		best    SizePair
		minDiff = math.MaxInt
		found   bool
	)
	for _, pair := range generateValidPreviewSizes(previews, pictures) {
		diff := absInt(pair.Preview.Width-width) + absInt(pair.Preview.Height-height)
		if diff < minDiff {
			best = pair
			minDiff = diff
			found = true
		}
	}
	return best, found
}

// selectFPSRange picks the range closest to the requested rate. Ranges
// are scaled by 1000, and the error is the distance to both ends.
func selectFPSRange(ranges []FPSRange, fps float64) (FPSRange, bool) {
	desired := int(fps * 1000)

	var (
		best    FPSRange
		minDiff = math.MaxInt
		found   bool
	)
	for _, r := range ranges {
		diff := absInt(desired-r.Min) + absInt(desired-r.Max)
		if diff < minDiff {
			best = r
			minDiff = diff
			found = true
		}
	}
	return best, found
}

// preferredFormats lists supported preview formats, most preferred first
var preferredFormats = []vision.PixelFormat{vision.NV21, vision.NV12, vision.YUYV}

func selectPixelFormat(available []vision.PixelFormat) (vision.PixelFormat, bool) {
	for _, want := range preferredFormats {
		for _, f := range available {
			if f == want {
				return f, true
			}
		}
	}
	return vision.FormatUnknown, false
}

// rotation is the orientation math for a preview
type rotation struct {
	angle        int // degrees the image must be turned clockwise to be upright
	displayAngle int // degrees passed to the device display orientation
	quarterTurns int
}

// computeRotation combines the display rotation with the sensor mounting.
// The front camera preview is mirrored, so its display angle is inverted.
func computeRotation(facing Facing, sensorOrientation, displayRotation int) rotation {
	degrees := ((displayRotation % 360) + 360) % 360
	orientation := ((sensorOrientation % 360) + 360) % 360

	var r rotation
	if facing == FacingFront {
		r.angle = (orientation + degrees) % 360
		r.displayAngle = (360 - r.angle) % 360
	} else {
		r.angle = (orientation - degrees + 360) % 360
		r.displayAngle = r.angle
	}
	r.quarterTurns = r.angle / 90
	return r
}

// computeZoom applies a scale factor to the current zoom level. Zooming in
// steps by a tenth of the range per unit of scale. Zooming out scales the
// current level. The result is clamped to [0, maxZoom].
func computeZoom(current, maxZoom int, scale float64) int {
	if math.IsNaN(scale) {
		return current
	}

	var zoom float64
	if scale > 1 {
		zoom = float64(current) + scale*float64(maxZoom/10)
	} else {
		zoom = float64(current) * scale
	}

	zoom = math.Round(zoom)
	// 0*Inf products
	if math.IsNaN(zoom) {
		if scale > 1 {
			return maxZoom
		}
		return current
	}
	if zoom < 0 {
		return 0
	}
	if zoom > float64(maxZoom) {
		return maxZoom
	}
	return int(zoom)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
