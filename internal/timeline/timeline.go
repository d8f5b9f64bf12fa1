package timeline

import "image"

// DefaultDelay is substituted for sub-frames that carry no usable delay,
// in hundredths of a second.
const DefaultDelay = 100

// Timeline is an ordered sequence of fully materialized frames sharing one
// canvas size. Frames and Delays are parallel-indexed; delays are hundredths
// of a second. A Timeline owns its frames exclusively: they never alias the
// decoder's working canvas or each other.
type Timeline struct {
	Width  int
	Height int
	Frames []*image.RGBA
	Delays []int
}

// Len returns the number of frames.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Frames)
}

// Clone returns a deep copy of the timeline. Useful when a caller wants to
// mutate frames without touching the original.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	out := &Timeline{
		Width:  t.Width,
		Height: t.Height,
		Frames: make([]*image.RGBA, len(t.Frames)),
		Delays: append([]int(nil), t.Delays...),
	}
	for i, frame := range t.Frames {
		cp := image.NewRGBA(frame.Rect)
		copy(cp.Pix, frame.Pix)
		out.Frames[i] = cp
	}
	return out
}
