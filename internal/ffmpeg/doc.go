// Package ffmpeg shells out to ffmpeg and ffprobe for frame extraction and
// GIF assembly when the external processing strategy is selected.
package ffmpeg
