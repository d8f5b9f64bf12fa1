// Package imageio loads reference images (JPEG, PNG, WebP, or a still GIF),
// reads and writes the PNG frame files exchanged with the external extraction
// tool, and fetches remote inputs with size and time bounds.
package imageio

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"

	_ "golang.org/x/image/webp"

	"gifswap/internal/services"
)

// Decode reads a still image in any supported format and normalizes it to
// RGBA with origin (0,0).
func Decode(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, services.Wrap(services.ErrMalformedFormat, "imageio", "decode", "cannot parse image", err)
	}
	return toRGBA(img), nil
}

// Load reads and decodes the image at path.
func Load(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()
	return Decode(file)
}

// WritePNG writes img to path as PNG.
func WritePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return file.Close()
}

// ReadPNG loads a frame file written by the extraction tool.
func ReadPNG(path string) (*image.RGBA, error) {
	return Load(path)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Rect, img, bounds.Min, draw.Src)
	return out
}

// Fetcher downloads remote inputs to local storage.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher constructs a Fetcher bounded to maxBytes per download. A nil
// client falls back to http.DefaultClient; callers set timeouts on the client.
func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url into destPath. Responses other than 200 and bodies
// larger than the configured bound are rejected.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "imageio", "fetch", fmt.Sprintf("invalid url %q", url), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "imageio", "fetch", "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrProcessingFailed, "imageio", "fetch",
			fmt.Sprintf("unexpected status %d for %q", resp.StatusCode, url), nil)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}
	defer out.Close()

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	written, err := io.Copy(out, limited)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "imageio", "fetch", "read download body", err)
	}
	if written > f.maxBytes {
		return services.Wrap(services.ErrValidation, "imageio", "fetch",
			fmt.Sprintf("download exceeds %d byte limit", f.maxBytes), nil)
	}
	return out.Close()
}
