package detect

import (
	"context"
	"image"

	"gifswap/internal/compositor"
)

// Detector locates face regions in an image file. Implementations must be
// safe for concurrent use across jobs.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]compositor.Region, error)
}

// Largest returns the region with the greatest area, matching how the source
// face is picked when a reference image contains several faces.
func Largest(regions []compositor.Region) (compositor.Region, bool) {
	var best compositor.Region
	found := false
	for _, region := range regions {
		if region.Empty() {
			continue
		}
		if !found || region.Width*region.Height > best.Width*best.Height {
			best = region
			found = true
		}
	}
	return best, found
}

// Pad grows region by ratio on every side and clips it to bounds, so the
// extracted source patch keeps hair and chin context around the raw box.
func Pad(region compositor.Region, ratio float64, bounds image.Rectangle) compositor.Region {
	padW := int(float64(region.Width) * ratio)
	padH := int(float64(region.Height) * ratio)
	rect := image.Rect(
		region.X-padW,
		region.Y-padH,
		region.X+region.Width+padW,
		region.Y+region.Height+padH,
	).Intersect(bounds)
	return compositor.Region{
		X:          rect.Min.X,
		Y:          rect.Min.Y,
		Width:      rect.Dx(),
		Height:     rect.Dy(),
		Confidence: region.Confidence,
	}
}
