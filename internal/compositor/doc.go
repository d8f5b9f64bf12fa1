// Package compositor blends a replacement patch into frame regions using a
// soft elliptical mask, with best-effort statistical color correction toward
// the surrounding content. All operations are side-effect free: inputs are
// never mutated and every call returns a fresh frame buffer.
package compositor
