package timeline_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"gifswap/internal/services"
	"gifswap/internal/timeline"
)

var (
	transparent = color.RGBA{}
	red         = color.RGBA{R: 255, A: 255}
	blue        = color.RGBA{B: 255, A: 255}
)

// buildGIF serializes hand-built sub-frames so decode tests control offsets,
// disposal, and transparency exactly.
func buildGIF(t *testing.T, g *gif.GIF) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func solidPaletted(rect image.Rectangle, pal color.Palette, idx uint8) *image.Paletted {
	p := image.NewPaletted(rect, pal)
	for i := range p.Pix {
		p.Pix[i] = idx
	}
	return p
}

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := timeline.Decode(bytes.NewReader([]byte("definitely not a gif")))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMalformedFormat) {
		t.Fatalf("expected malformed format, got %v", err)
	}
}

func TestDecodeDefaultsZeroDelay(t *testing.T) {
	pal := color.Palette{red}
	data := buildGIF(t, &gif.GIF{
		Image:    []*image.Paletted{solidPaletted(image.Rect(0, 0, 2, 2), pal, 0)},
		Delay:    []int{0},
		Disposal: []byte{gif.DisposalNone},
	})

	tl, err := timeline.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tl.Len() != 1 {
		t.Fatalf("expected 1 frame, got %d", tl.Len())
	}
	if tl.Delays[0] != timeline.DefaultDelay {
		t.Fatalf("expected default delay %d, got %d", timeline.DefaultDelay, tl.Delays[0])
	}
}

func TestDecodePreservesPriorContentUnderTransparency(t *testing.T) {
	// Sub-frame 1: fully opaque red, "do not dispose". Sub-frame 2 covers the
	// canvas with a transparent left half and a blue right half. Frame 2 must
	// show red where sub-frame 2 is transparent and blue where it paints.
	pal := color.Palette{transparent, red, blue}
	rect := image.Rect(0, 0, 4, 2)

	first := solidPaletted(rect, pal, 1)
	second := image.NewPaletted(rect, pal)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				second.SetColorIndex(x, y, 0)
			} else {
				second.SetColorIndex(x, y, 2)
			}
		}
	}

	data := buildGIF(t, &gif.GIF{
		Image:    []*image.Paletted{first, second},
		Delay:    []int{10, 10},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone},
	})

	tl, err := timeline.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tl.Len() != 2 {
		t.Fatalf("expected 2 frames, got %d", tl.Len())
	}

	frame := tl.Frames[1]
	if got := frame.RGBAAt(0, 0); got != red {
		t.Fatalf("transparent half should keep prior content, got %+v", got)
	}
	if got := frame.RGBAAt(3, 1); got != blue {
		t.Fatalf("painted half should show new content, got %+v", got)
	}
}

func TestDecodeDisposalBackgroundClearsCanvas(t *testing.T) {
	pal := color.Palette{transparent, red, blue}
	rect := image.Rect(0, 0, 4, 4)

	first := solidPaletted(rect, pal, 1)
	patch := solidPaletted(image.Rect(0, 0, 2, 2), pal, 2)

	data := buildGIF(t, &gif.GIF{
		Image:    []*image.Paletted{first, patch},
		Delay:    []int{10, 10},
		Disposal: []byte{gif.DisposalBackground, gif.DisposalNone},
	})

	tl, err := timeline.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	frame := tl.Frames[1]
	if got := frame.RGBAAt(0, 0); got != blue {
		t.Fatalf("patched corner should be blue, got %+v", got)
	}
	// The rest of the canvas was cleared before the second sub-frame.
	if got := frame.RGBAAt(3, 3); got != transparent {
		t.Fatalf("cleared region should be transparent, got %+v", got)
	}
}

func TestDecodeOffsetPatchFolds(t *testing.T) {
	pal := color.Palette{transparent, red, blue}
	rect := image.Rect(0, 0, 4, 4)

	first := solidPaletted(rect, pal, 1)
	patch := solidPaletted(image.Rect(2, 2, 4, 4), pal, 2)

	data := buildGIF(t, &gif.GIF{
		Image:    []*image.Paletted{first, patch},
		Delay:    []int{10, 10},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone},
	})

	tl, err := timeline.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	frame := tl.Frames[1]
	if got := frame.RGBAAt(0, 0); got != red {
		t.Fatalf("area outside patch should keep prior content, got %+v", got)
	}
	if got := frame.RGBAAt(3, 3); got != blue {
		t.Fatalf("patched offset region should be blue, got %+v", got)
	}
}

func TestEncodeEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	err := timeline.Encode(&buf, &timeline.Timeline{})
	if !errors.Is(err, services.ErrEmptyInput) {
		t.Fatalf("expected empty input error, got %v", err)
	}
}

func TestEncodeMismatchedDelays(t *testing.T) {
	tl := &timeline.Timeline{
		Width:  2,
		Height: 2,
		Frames: []*image.RGBA{solidRGBA(2, 2, red)},
		Delays: []int{10, 20},
	}
	var buf bytes.Buffer
	if err := timeline.Encode(&buf, tl); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRoundTripPreservesCountAndTiming(t *testing.T) {
	tl := &timeline.Timeline{
		Width:  8,
		Height: 8,
		Frames: []*image.RGBA{
			solidRGBA(8, 8, red),
			solidRGBA(8, 8, blue),
			solidRGBA(8, 8, color.RGBA{R: 10, G: 200, B: 30, A: 255}),
		},
		Delays: []int{5, 7, 12},
	}

	var buf bytes.Buffer
	if err := timeline.Encode(&buf, tl); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := timeline.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Len() != tl.Len() {
		t.Fatalf("frame count changed: %d != %d", decoded.Len(), tl.Len())
	}
	for i, delay := range tl.Delays {
		if decoded.Delays[i] != delay {
			t.Fatalf("delay %d changed: %d != %d", i, decoded.Delays[i], delay)
		}
	}
	if decoded.Width != 8 || decoded.Height != 8 {
		t.Fatalf("canvas size changed: %dx%d", decoded.Width, decoded.Height)
	}
}

func TestEncodeClampsDelayFloor(t *testing.T) {
	tl := &timeline.Timeline{
		Width:  2,
		Height: 2,
		Frames: []*image.RGBA{solidRGBA(2, 2, red)},
		Delays: []int{0},
	}
	var buf bytes.Buffer
	if err := timeline.Encode(&buf, tl); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	raw, err := gif.DecodeAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if raw.Delay[0] < 1 {
		t.Fatalf("expected delay floor of 1, got %d", raw.Delay[0])
	}
	if raw.LoopCount != 0 {
		t.Fatalf("expected infinite looping, got %d", raw.LoopCount)
	}
}

func TestCloneIsDeep(t *testing.T) {
	tl := &timeline.Timeline{
		Width:  2,
		Height: 2,
		Frames: []*image.RGBA{solidRGBA(2, 2, red)},
		Delays: []int{10},
	}
	cp := tl.Clone()
	cp.Frames[0].SetRGBA(0, 0, blue)
	if tl.Frames[0].RGBAAt(0, 0) != red {
		t.Fatal("clone aliases original frame buffer")
	}
}
