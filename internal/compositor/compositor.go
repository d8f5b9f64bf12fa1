package compositor

import (
	"errors"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Region is an axis-aligned box identifying where a replacement patch should
// be blended, with the detector's confidence when known.
type Region struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Mask shape constants. The ellipse radii follow typical face silhouettes:
// slightly narrower than the box, almost full height.
const (
	maskRadiusX = 0.45
	maskRadiusY = 0.48
	// Full blend strength inside this normalized elliptical distance, linear
	// falloff to zero between it and 1.0.
	maskInnerEdge = 0.7
)

// Composite blends patch into a copy of frame over region using a soft
// elliptical mask, returning the new frame. The inputs are never mutated.
//
// strength must be within [0, 1]; values outside are a caller bug and are not
// clamped here. The patch is stretched to the region's exact size (aspect
// ratio is intentionally not preserved), color-corrected toward the region's
// brightness on a best-effort basis, then alpha-blended per pixel. Pixels
// outside the frame are clipped; a fully out-of-bounds region is a no-op.
// The frame's alpha channel is left untouched.
func Composite(frame *image.RGBA, region Region, patch image.Image, strength float64) *image.RGBA {
	out := image.NewRGBA(frame.Rect)
	copy(out.Pix, frame.Pix)

	if region.Empty() || patch == nil {
		return out
	}

	resized := resizePatch(patch, region.Width, region.Height)
	if corrected, err := colorCorrect(resized, frame, region); err == nil {
		resized = corrected
	}

	target := region.Rect().Intersect(frame.Rect)
	if target.Empty() {
		return out
	}

	for y := target.Min.Y; y < target.Max.Y; y++ {
		ly := y - region.Y
		for x := target.Min.X; x < target.Max.X; x++ {
			lx := x - region.X
			a := maskAlpha(lx, ly, region.Width, region.Height, strength)
			if a <= 0 {
				continue
			}
			src := resized.PixOffset(lx, ly)
			dst := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				s := float64(resized.Pix[src+c])
				d := float64(out.Pix[dst+c])
				out.Pix[dst+c] = uint8(math.Round(s*a + d*(1-a)))
			}
		}
	}

	return out
}

// ApplyAll blends the patch into every region sequentially; later regions
// operate on the output of earlier ones, so overlaps re-blend.
func ApplyAll(frame *image.RGBA, regions []Region, patch image.Image, strength float64) *image.RGBA {
	out := frame
	for _, region := range regions {
		out = Composite(out, region, patch, strength)
	}
	if out == frame {
		cp := image.NewRGBA(frame.Rect)
		copy(cp.Pix, frame.Pix)
		return cp
	}
	return out
}

// maskAlpha evaluates the two-band elliptical falloff at local patch
// coordinates: full strength for d < maskInnerEdge, linear decay to zero at
// d = 1, zero beyond.
func maskAlpha(x, y, width, height int, strength float64) float64 {
	cx := float64(width) / 2
	cy := float64(height) / 2
	rx := maskRadiusX * float64(width)
	ry := maskRadiusY * float64(height)
	if rx <= 0 || ry <= 0 {
		return 0
	}
	dx := (float64(x) - cx) / rx
	dy := (float64(y) - cy) / ry
	d := math.Sqrt(dx*dx + dy*dy)
	switch {
	case d < maskInnerEdge:
		return strength
	case d < 1.0:
		return strength * (1.0 - d) / (1.0 - maskInnerEdge)
	default:
		return 0
	}
}

// resizePatch stretches the patch to exactly width x height with a
// deterministic resampling filter.
func resizePatch(patch image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Rect, patch, patch.Bounds(), xdraw.Src, nil)
	return dst
}

var errNoSamples = errors.New("no pixels to sample")

// colorCorrect nudges the resized patch toward the brightness of the frame
// pixels under the region. Per-channel means of patch and target are
// compared; when the averaged difference exceeds a visibility threshold the
// patch is scaled by a clamped brightness factor. Any failure leaves the
// patch uncorrected; compositing never aborts over color matching.
func colorCorrect(patch *image.RGBA, frame *image.RGBA, region Region) (*image.RGBA, error) {
	target := region.Rect().Intersect(frame.Rect)
	if target.Empty() {
		return nil, errNoSamples
	}

	patchMean, _, err := channelStats(patch, patch.Rect)
	if err != nil {
		return nil, err
	}
	targetMean, _, err := channelStats(frame, target)
	if err != nil {
		return nil, err
	}

	var avgBrightness float64
	for c := 0; c < 3; c++ {
		avgBrightness += targetMean[c] - patchMean[c]
	}
	avgBrightness /= 3

	// Differences below ~2% of the 8-bit range are not worth touching.
	if math.Abs(avgBrightness) <= 5 {
		return patch, nil
	}

	factor := 1 + avgBrightness/255
	if factor < 0.5 {
		factor = 0.5
	} else if factor > 1.5 {
		factor = 1.5
	}

	out := image.NewRGBA(patch.Rect)
	copy(out.Pix, patch.Pix)
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(out.Pix[i+c]) * factor
			if v > 255 {
				v = 255
			}
			out.Pix[i+c] = uint8(math.Round(v))
		}
	}
	return out, nil
}

// channelStats returns per-channel mean and standard deviation over rect.
func channelStats(img *image.RGBA, rect image.Rectangle) ([3]float64, [3]float64, error) {
	var mean, stddev [3]float64
	rect = rect.Intersect(img.Rect)
	count := rect.Dx() * rect.Dy()
	if count <= 0 {
		return mean, stddev, errNoSamples
	}

	var sum, sumSq [3]float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		offset := img.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[offset+c])
				sum[c] += v
				sumSq[c] += v * v
			}
			offset += 4
		}
	}
	n := float64(count)
	for c := 0; c < 3; c++ {
		mean[c] = sum[c] / n
		variance := sumSq[c]/n - mean[c]*mean[c]
		if variance < 0 {
			variance = 0
		}
		stddev[c] = math.Sqrt(variance)
	}
	return mean, stddev, nil
}
