package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gifswap/internal/services"
)

var commandContext = exec.CommandContext

// Metadata describes the source GIF as reported by ffprobe.
type Metadata struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// Client defines frame extraction and GIF assembly behaviour.
type Client interface {
	ExtractFrames(ctx context.Context, gifPath, outputDir string) ([]string, Metadata, error)
	AssembleGIF(ctx context.Context, framesDir, outputPath string, fps float64) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinaries overrides the ffmpeg and ffprobe binary names.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(c *CLI) {
		if ffmpeg != "" {
			c.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			c.ffprobe = ffprobe
		}
	}
}

// CLI wraps the ffmpeg and ffprobe command-line tools.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// ExtractFrames dumps every frame of gifPath into outputDir as numbered PNGs
// and returns the sorted frame paths with probed metadata. Probe failures are
// tolerated; extraction failures are not.
func (c *CLI) ExtractFrames(ctx context.Context, gifPath, outputDir string) ([]string, Metadata, error) {
	if gifPath == "" {
		return nil, Metadata{}, errors.New("gif path required")
	}
	if outputDir == "" {
		return nil, Metadata{}, errors.New("output directory required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, Metadata{}, fmt.Errorf("create frames directory: %w", err)
	}

	meta := c.probe(ctx, gifPath)

	pattern := filepath.Join(outputDir, "frame_%04d.png")
	args := []string{"-y", "-i", gifPath, "-vsync", "0", pattern}
	if err := c.run(ctx, c.ffmpeg, args, "extract frames"); err != nil {
		return nil, Metadata{}, err
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("list frames: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".png") {
			paths = append(paths, filepath.Join(outputDir, name))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, Metadata{}, services.Wrap(services.ErrMalformedFormat, "ffmpeg", "extract frames",
			fmt.Sprintf("no frames produced from %s", filepath.Base(gifPath)), nil)
	}
	meta.FrameCount = len(paths)
	return paths, meta, nil
}

// AssembleGIF encodes the numbered PNGs in framesDir into an animated GIF at
// outputPath. A per-input palette is generated first; if palette generation
// fails the frames are encoded directly.
func (c *CLI) AssembleGIF(ctx context.Context, framesDir, outputPath string, fps float64) error {
	if framesDir == "" {
		return errors.New("frames directory required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}
	if fps <= 0 {
		fps = 10
	}

	pattern := filepath.Join(framesDir, "frame_%04d.png")
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	palettePath := filepath.Join(framesDir, "palette.png")

	paletteArgs := []string{
		"-y", "-framerate", rate, "-i", pattern,
		"-vf", "palettegen=max_colors=256:stats_mode=diff",
		palettePath,
	}
	if err := c.run(ctx, c.ffmpeg, paletteArgs, "generate palette"); err != nil {
		// Encode without the palette rather than fail the job.
		fallback := []string{"-y", "-framerate", rate, "-i", pattern, "-loop", "0", outputPath}
		return c.run(ctx, c.ffmpeg, fallback, "assemble gif")
	}

	args := []string{
		"-y", "-framerate", rate, "-i", pattern, "-i", palettePath,
		"-lavfi", "paletteuse=dither=bayer:bayer_scale=5:diff_mode=rectangle",
		"-loop", "0",
		outputPath,
	}
	return c.run(ctx, c.ffmpeg, args, "assemble gif")
}

// probe reads dimensions and frame rate from the first video stream. Any
// failure yields best-guess defaults; the caller fills in the frame count
// after extraction.
func (c *CLI) probe(ctx context.Context, gifPath string) Metadata {
	meta := Metadata{FPS: 10}

	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-of", "csv=p=0",
		gifPath,
	}
	cmd := commandContext(ctx, c.ffprobe, args...) //nolint:gosec
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return meta
	}

	parts := strings.Split(strings.TrimSpace(stdout.String()), ",")
	if len(parts) >= 2 {
		if w, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			meta.Width = w
		}
		if h, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			meta.Height = h
		}
	}
	if len(parts) >= 3 {
		if fps, ok := parseRate(strings.TrimSpace(parts[2])); ok {
			meta.FPS = fps
		}
	}
	return meta
}

func parseRate(raw string) (float64, bool) {
	num, den, found := strings.Cut(raw, "/")
	if !found {
		value, err := strconv.ParseFloat(raw, 64)
		return value, err == nil && value > 0
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return n / d, n > 0
}

func (c *CLI) run(ctx context.Context, binary string, args []string, operation string) error {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrExternalTool, "ffmpeg", operation,
			strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

var _ Client = (*CLI)(nil)
