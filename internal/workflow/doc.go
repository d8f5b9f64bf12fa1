// Package workflow orchestrates face-replacement jobs: source face capture,
// frame extraction via either the in-process codec or ffmpeg, per-frame
// compositing, and final GIF assembly.
package workflow
