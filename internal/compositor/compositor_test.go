package compositor_test

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"gifswap/internal/compositor"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCompositeZeroStrengthIsNoOp(t *testing.T) {
	frame := solid(20, 20, color.RGBA{R: 40, G: 80, B: 120, A: 255})
	patch := solid(10, 10, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	region := compositor.Region{X: 5, Y: 5, Width: 10, Height: 10}

	out := compositor.Composite(frame, region, patch, 0)
	if !bytes.Equal(out.Pix, frame.Pix) {
		t.Fatal("zero blend strength must leave the frame bit-identical")
	}
	if out == frame {
		t.Fatal("composite must return a new frame")
	}
}

func TestCompositeFullStrengthInteriorAndExterior(t *testing.T) {
	target := color.RGBA{R: 40, G: 80, B: 120, A: 255}
	// Patch brightness close to the target region's so color correction
	// stays inert and the interior comparison is exact.
	src := color.RGBA{R: 82, G: 78, B: 80, A: 255}
	frame := solid(40, 40, target)
	patch := solid(8, 8, src)
	region := compositor.Region{X: 10, Y: 10, Width: 20, Height: 20}

	out := compositor.Composite(frame, region, patch, 1)

	// Ellipse center: d = 0, mask alpha 1, source copied exactly.
	center := out.RGBAAt(region.X+region.Width/2, region.Y+region.Height/2)
	if center.R != src.R || center.G != src.G || center.B != src.B {
		t.Fatalf("center pixel should equal source, got %+v", center)
	}
	if center.A != target.A {
		t.Fatalf("alpha channel must be untouched, got %d", center.A)
	}

	// Region corner: normalized distance well beyond 1, original preserved.
	corner := out.RGBAAt(region.X, region.Y)
	if corner != target {
		t.Fatalf("corner outside ellipse should keep target pixel, got %+v", corner)
	}

	// Outside the region entirely.
	if got := out.RGBAAt(0, 0); got != target {
		t.Fatalf("pixel outside region changed: %+v", got)
	}
}

func TestCompositeClipsOutOfBoundsRegion(t *testing.T) {
	target := color.RGBA{R: 10, G: 10, B: 10, A: 255}
	frame := solid(16, 16, target)
	patch := solid(4, 4, color.RGBA{R: 250, G: 250, B: 250, A: 255})

	// Box extends past the right/bottom edges; must not panic and must only
	// touch the in-bounds sub-rectangle.
	region := compositor.Region{X: 10, Y: 10, Width: 20, Height: 20}
	out := compositor.Composite(frame, region, patch, 1)

	if got := out.RGBAAt(0, 0); got != target {
		t.Fatalf("far corner changed: %+v", got)
	}
	// Fully out-of-bounds region is a no-op.
	gone := compositor.Region{X: 100, Y: 100, Width: 5, Height: 5}
	out2 := compositor.Composite(frame, gone, patch, 1)
	if !bytes.Equal(out2.Pix, frame.Pix) {
		t.Fatal("fully out-of-bounds region must leave frame unchanged")
	}
}

func TestCompositeEmptyRegionNoOp(t *testing.T) {
	frame := solid(8, 8, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	patch := solid(4, 4, color.RGBA{R: 9, A: 255})
	out := compositor.Composite(frame, compositor.Region{X: 2, Y: 2}, patch, 1)
	if !bytes.Equal(out.Pix, frame.Pix) {
		t.Fatal("empty region must be a no-op")
	}
}

func TestCompositeDoesNotMutateInputs(t *testing.T) {
	frame := solid(20, 20, color.RGBA{R: 40, G: 80, B: 120, A: 255})
	patch := solid(10, 10, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	frameBefore := append([]uint8(nil), frame.Pix...)
	patchBefore := append([]uint8(nil), patch.Pix...)

	compositor.Composite(frame, compositor.Region{X: 2, Y: 2, Width: 12, Height: 12}, patch, 0.8)

	if !bytes.Equal(frame.Pix, frameBefore) {
		t.Fatal("frame mutated")
	}
	if !bytes.Equal(patch.Pix, patchBefore) {
		t.Fatal("patch mutated")
	}
}

func TestColorCorrectionBrightensDarkPatch(t *testing.T) {
	// Bright target region, very dark patch: correction should lift the
	// blended center pixel above the raw patch value.
	frame := solid(30, 30, color.RGBA{R: 240, G: 240, B: 240, A: 255})
	patch := solid(10, 10, color.RGBA{R: 60, G: 60, B: 60, A: 255})
	region := compositor.Region{X: 5, Y: 5, Width: 20, Height: 20}

	out := compositor.Composite(frame, region, patch, 1)
	center := out.RGBAAt(region.X+region.Width/2, region.Y+region.Height/2)
	if center.R <= 60 {
		t.Fatalf("expected brightened center pixel, got %+v", center)
	}
}

func TestApplyAllSequential(t *testing.T) {
	frame := solid(40, 20, color.RGBA{R: 5, G: 5, B: 5, A: 255})
	patch := solid(4, 4, color.RGBA{R: 9, G: 9, B: 9, A: 255})
	regions := []compositor.Region{
		{X: 2, Y: 2, Width: 10, Height: 10},
		{X: 24, Y: 4, Width: 10, Height: 10},
	}

	out := compositor.ApplyAll(frame, regions, patch, 1)

	left := out.RGBAAt(regions[0].X+5, regions[0].Y+5)
	right := out.RGBAAt(regions[1].X+5, regions[1].Y+5)
	if left.R != 9 || right.R != 9 {
		t.Fatalf("both regions should be blended, got %+v and %+v", left, right)
	}
}

func TestApplyAllNoRegionsReturnsCopy(t *testing.T) {
	frame := solid(8, 8, color.RGBA{R: 7, A: 255})
	out := compositor.ApplyAll(frame, nil, solid(2, 2, color.RGBA{A: 255}), 1)
	if out == frame {
		t.Fatal("expected a defensive copy")
	}
	if !bytes.Equal(out.Pix, frame.Pix) {
		t.Fatal("copy should match original content")
	}
}
