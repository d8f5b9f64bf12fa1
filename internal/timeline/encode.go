package timeline

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"

	"github.com/ericpauley/go-quantize/quantize"

	"gifswap/internal/services"
)

// Encode serializes a Timeline as an infinitely looping animated GIF. Every
// frame is quantized to its own adaptive (median cut) palette of at most 256
// colors and dithered with Floyd-Steinberg. Frames are emitted full-canvas
// with disposal "none" since they are already completely composited; delays
// are clamped to the format's minimum of one hundredth of a second.
func Encode(w io.Writer, t *Timeline) error {
	if t.Len() == 0 {
		return services.Wrap(services.ErrEmptyInput, "timeline", "encode", "no frames to encode", nil)
	}
	if len(t.Frames) != len(t.Delays) {
		return services.Wrap(services.ErrValidation, "timeline", "encode", "frame and delay counts differ", nil)
	}

	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(t.Frames)),
		Delay:     make([]int, 0, len(t.Frames)),
		Disposal:  make([]byte, 0, len(t.Frames)),
		LoopCount: 0,
		Config: image.Config{
			Width:  t.Width,
			Height: t.Height,
		},
	}

	quantizer := quantize.MedianCutQuantizer{}
	for i, frame := range t.Frames {
		palette := quantizer.Quantize(make(color.Palette, 0, 256), frame)
		if len(palette) == 0 {
			palette = color.Palette{color.Black}
		}
		paletted := image.NewPaletted(frame.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, frame.Bounds(), frame, image.Point{})

		delay := t.Delays[i]
		if delay < 1 {
			delay = 1
		}

		out.Image = append(out.Image, paletted)
		out.Delay = append(out.Delay, delay)
		out.Disposal = append(out.Disposal, gif.DisposalNone)
	}

	if err := gif.EncodeAll(w, out); err != nil {
		return services.Wrap(services.ErrProcessingFailed, "timeline", "encode", "serialize animated image", err)
	}
	return nil
}
