package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gifswap/internal/compositor"
	"gifswap/internal/services"
)

var commandContext = exec.CommandContext

// Option configures the CLI detector.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithModel selects the detection model ("hog" or "cnn").
func WithModel(model string) Option {
	return func(c *CLI) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMinConfidence drops detections scoring below the threshold.
func WithMinConfidence(min float64) Option {
	return func(c *CLI) {
		c.minConfidence = min
	}
}

// WithTimeout bounds each detector invocation. Zero or negative leaves the
// caller's context deadline in charge.
func WithTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		c.timeout = timeout
	}
}

// CLI wraps an external face-detection command. The tool loads its model on
// first use; warmup happens once per process regardless of how many jobs race
// into the first detection.
type CLI struct {
	binary        string
	model         string
	minConfidence float64
	timeout       time.Duration

	warmOnce sync.Once
	warmErr  error
}

// NewCLI constructs a CLI detector using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "facefind", model: "hog"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

type detectPayload struct {
	Faces []struct {
		Box struct {
			X      int `json:"x"`
			Y      int `json:"y"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"box"`
		Score float64 `json:"score"`
	} `json:"faces"`
}

// Detect runs the external tool against imagePath and returns the regions it
// reports, filtered by the confidence threshold.
func (c *CLI) Detect(ctx context.Context, imagePath string) ([]compositor.Region, error) {
	if strings.TrimSpace(imagePath) == "" {
		return nil, errors.New("image path required")
	}
	if err := c.warmup(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := c.boundedContext(ctx)
	defer cancel()

	args := []string{"detect", "--image", imagePath, "--model", c.model, "--json"}
	cmd := commandContext(runCtx, c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrExternalTool, "detect", "run",
				fmt.Sprintf("timed out after %s", c.timeout), runCtx.Err())
		}
		return nil, services.Wrap(services.ErrExternalTool, "detect", "run",
			strings.TrimSpace(stderr.String()), err)
	}

	var payload detectPayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "parse output",
			fmt.Sprintf("invalid detector response for %s", imagePath), err)
	}

	regions := make([]compositor.Region, 0, len(payload.Faces))
	for _, face := range payload.Faces {
		if face.Score < c.minConfidence {
			continue
		}
		regions = append(regions, compositor.Region{
			X:          face.Box.X,
			Y:          face.Box.Y,
			Width:      face.Box.Width,
			Height:     face.Box.Height,
			Confidence: face.Score,
		})
	}
	return regions, nil
}

// warmup asks the tool to load its model. Runs at most once per process; a
// failure is sticky so every caller sees the same error.
func (c *CLI) warmup(ctx context.Context) error {
	c.warmOnce.Do(func() {
		runCtx, cancel := c.boundedContext(ctx)
		defer cancel()

		cmd := commandContext(runCtx, c.binary, "warmup", "--model", c.model) //nolint:gosec
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			c.warmErr = services.Wrap(services.ErrExternalTool, "detect", "warmup",
				strings.TrimSpace(stderr.String()), err)
		}
	})
	return c.warmErr
}

// boundedContext applies the configured per-invocation timeout.
func (c *CLI) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

var _ Detector = (*CLI)(nil)
