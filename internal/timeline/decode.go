package timeline

import (
	"image"
	"image/gif"
	"io"
	"strings"

	"gifswap/internal/services"
)

// Decode parses an animated GIF stream into a Timeline of fully materialized
// RGBA frames, applying disposal semantics so every frame is a complete
// canvas snapshot rather than a delta patch.
//
// Sub-frames are folded onto a cumulative canvas in stream order: only pixels
// with non-zero alpha are copied, which preserves prior content under
// delta-encoded regions. Disposal is applied after each snapshot:
// "restore to background" clears the canvas, everything else accumulates.
// "Restore to previous" is treated as "do not dispose"; honoring it would need
// a frame-history stack and renderers in the wild rarely depend on it.
func Decode(r io.Reader) (*Timeline, error) {
	img, err := gif.DecodeAll(r)
	if err != nil {
		return nil, classifyDecodeError(err)
	}
	if len(img.Image) == 0 {
		return nil, services.Wrap(services.ErrMalformedFormat, "timeline", "decode", "stream contains no frames", nil)
	}

	width, height := img.Config.Width, img.Config.Height
	if width <= 0 || height <= 0 {
		bounds := img.Image[0].Bounds()
		width, height = bounds.Max.X, bounds.Max.Y
	}
	if width <= 0 || height <= 0 {
		return nil, services.Wrap(services.ErrMalformedFormat, "timeline", "decode", "zero logical screen size", nil)
	}

	canvasRect := image.Rect(0, 0, width, height)
	canvas := image.NewRGBA(canvasRect)
	out := &Timeline{
		Width:  width,
		Height: height,
		Frames: make([]*image.RGBA, 0, len(img.Image)),
		Delays: make([]int, 0, len(img.Image)),
	}

	for i, sub := range img.Image {
		foldSubFrame(canvas, sub)

		snapshot := image.NewRGBA(canvasRect)
		copy(snapshot.Pix, canvas.Pix)
		out.Frames = append(out.Frames, snapshot)

		delay := DefaultDelay
		if i < len(img.Delay) && img.Delay[i] > 0 {
			delay = img.Delay[i]
		}
		out.Delays = append(out.Delays, delay)

		if i < len(img.Disposal) && img.Disposal[i] == gif.DisposalBackground {
			clear(canvas.Pix)
		}
	}

	return out, nil
}

// foldSubFrame composites an indexed patch onto the canvas at its declared
// offset. Pixels whose resolved alpha is zero leave the canvas untouched.
func foldSubFrame(canvas *image.RGBA, sub *image.Paletted) {
	bounds := sub.Bounds().Intersect(canvas.Rect)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		srcRow := sub.PixOffset(bounds.Min.X, y)
		dstRow := canvas.PixOffset(bounds.Min.X, y)
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := sub.Pix[srcRow]
			srcRow++
			dst := dstRow
			dstRow += 4
			if int(idx) >= len(sub.Palette) {
				continue
			}
			r, g, b, a := sub.Palette[idx].RGBA()
			if a == 0 {
				continue
			}
			canvas.Pix[dst+0] = uint8(r >> 8)
			canvas.Pix[dst+1] = uint8(g >> 8)
			canvas.Pix[dst+2] = uint8(b >> 8)
			canvas.Pix[dst+3] = uint8(a >> 8)
		}
	}
}

func classifyDecodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "color table") {
		return services.Wrap(services.ErrUnsupportedFeature, "timeline", "decode", "stream requires a color table the file does not carry", err)
	}
	return services.Wrap(services.ErrMalformedFormat, "timeline", "decode", "cannot parse animated image", err)
}
