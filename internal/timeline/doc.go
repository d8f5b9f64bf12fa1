// Package timeline decodes animated GIFs into sequences of fully materialized
// RGBA frames and re-encodes processed frames back into an animated stream.
//
// The decoder hides the format's delta encoding: disposal methods and
// transparent patches are folded into complete per-frame canvas snapshots so
// downstream code can treat every frame as an independent image. The encoder
// reverses the trip with per-frame adaptive palettes, preserving frame count
// and timing.
package timeline
