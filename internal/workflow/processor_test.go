package workflow

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gifswap/internal/compositor"
	"gifswap/internal/config"
	"gifswap/internal/imageio"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/services"
	"gifswap/internal/testsupport"
	"gifswap/internal/timeline"
)

// stubDetector answers the source-image detection from sourceRegions and all
// frame detections from frameRegions.
type stubDetector struct {
	facePath      string
	sourceRegions []compositor.Region
	frameRegions  []compositor.Region
	frameErr      error
	calls         int
}

func (d *stubDetector) Detect(ctx context.Context, imagePath string) ([]compositor.Region, error) {
	d.calls++
	if imagePath == d.facePath {
		return d.sourceRegions, nil
	}
	if d.frameErr != nil {
		return nil, d.frameErr
	}
	return d.frameRegions, nil
}

func writeTestGIF(t *testing.T, path string, frames int) {
	t.Helper()

	palette := color.Palette{
		color.RGBA{0, 0, 255, 255},
		color.RGBA{255, 255, 255, 255},
	}
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		img := image.NewPaletted(image.Rect(0, 0, 64, 64), palette)
		for p := range img.Pix {
			img.Pix[p] = 0
		}
		anim.Image = append(anim.Image, img)
		anim.Delay = append(anim.Delay, 5)
	}

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create gif: %v", err)
	}
	defer out.Close()
	if err := gif.EncodeAll(out, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
}

func writeTestFace(t *testing.T, path string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{200, 60, 60, 255})
		}
	}
	if err := imageio.WritePNG(path, img); err != nil {
		t.Fatalf("write face image: %v", err)
	}
}

func newTestJob(t *testing.T, cfg *config.Config, store *queue.Store) *queue.Job {
	t.Helper()

	base := testsupport.BaseDir(cfg)
	gifPath := filepath.Join(base, "input.gif")
	facePath := filepath.Join(base, "face.png")
	writeTestGIF(t, gifPath, 3)
	writeTestFace(t, facePath)

	job := &queue.Job{GifPath: gifPath, FacePath: facePath, Strategy: config.StrategyPure}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func newTestStore(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sourceFace() []compositor.Region {
	return []compositor.Region{{X: 5, Y: 5, Width: 30, Height: 30, Confidence: 0.9}}
}

func TestProcessPureEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{
		facePath:      job.FacePath,
		sourceRegions: sourceFace(),
		frameRegions:  []compositor.Region{{X: 10, Y: 10, Width: 20, Height: 20, Confidence: 0.8}},
	}
	processor := New(cfg, store, detector, logging.NewNop())

	if err := processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	loaded, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.Status != queue.StatusCompleted {
		t.Fatalf("expected completed status, got %s (%s)", loaded.Status, loaded.ErrorMessage)
	}
	if loaded.FramesTotal != 3 {
		t.Fatalf("expected 3 frames, got %d", loaded.FramesTotal)
	}
	if loaded.FacesFound != 3 {
		t.Fatalf("expected a face per frame, got %d", loaded.FacesFound)
	}

	out, err := os.Open(loaded.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	result, err := timeline.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("expected output frame count 3, got %d", result.Len())
	}

	// Replaced pixels take on the red source patch.
	center := result.Frames[0].RGBAAt(20, 20)
	if center.R <= center.B {
		t.Fatalf("expected replaced region to turn red, got %+v", center)
	}

	// Workspace is removed after completion.
	if _, err := os.Stat(filepath.Join(cfg.Paths.StagingDir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected staging workspace removal, got %v", err)
	}
}

func TestProcessPureExplicitZeroBlendPassesFramesThrough(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)
	zero := 0.0
	job.BlendStrength = &zero
	if err := store.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("UpdateJob returned error: %v", err)
	}

	detector := &stubDetector{
		facePath:      job.FacePath,
		sourceRegions: sourceFace(),
		frameRegions:  []compositor.Region{{X: 10, Y: 10, Width: 20, Height: 20, Confidence: 0.8}},
	}
	processor := New(cfg, store, detector, logging.NewNop())

	if err := processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	loaded, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.Status != queue.StatusCompleted {
		t.Fatalf("expected completed status, got %s (%s)", loaded.Status, loaded.ErrorMessage)
	}
	if loaded.FacesFound != 3 {
		t.Fatalf("expected detections to still be counted, got %d", loaded.FacesFound)
	}

	out, err := os.Open(loaded.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	result, err := timeline.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}

	// Zero strength is a valid request, not "use the default": the detected
	// region must come through untouched instead of blended at the configured
	// strength.
	center := result.Frames[0].RGBAAt(20, 20)
	if center.B <= center.R {
		t.Fatalf("expected zero-strength blend to leave the blue frame alone, got %+v", center)
	}
}

func TestProcessFailsFastWithoutSourceFace(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{facePath: job.FacePath}
	processor := New(cfg, store, detector, logging.NewNop())

	err := processor.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected processing to fail without a source face")
	}
	if !errors.Is(err, services.ErrNoSourceFace) {
		t.Fatalf("expected no-source-face marker, got %v", err)
	}
	if detector.calls != 1 {
		t.Fatalf("expected fail-fast before frame work, detector called %d times", detector.calls)
	}

	loaded, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", loaded.Status)
	}
	if !strings.Contains(loaded.ErrorMessage, "no face found") {
		t.Fatalf("expected error message to mention the missing face, got %q", loaded.ErrorMessage)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.StagingDir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected staging workspace removal, got %v", err)
	}
}

func TestProcessFrameDetectionErrorsPassThrough(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{
		facePath:      job.FacePath,
		sourceRegions: sourceFace(),
		frameErr:      errors.New("detector crashed"),
	}
	processor := New(cfg, store, detector, logging.NewNop())

	if err := processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	loaded, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.Status != queue.StatusCompleted {
		t.Fatalf("expected completion despite detector failures, got %s", loaded.Status)
	}
	if loaded.FacesFound != 0 {
		t.Fatalf("expected no faces counted, got %d", loaded.FacesFound)
	}

	out, err := os.Open(loaded.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	result, err := timeline.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Frames pass through untouched: still blue.
	center := result.Frames[0].RGBAAt(20, 20)
	if center.B <= center.R {
		t.Fatalf("expected untouched blue frame, got %+v", center)
	}
}

func TestProcessRespectsMaxFrames(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	cfg.Processing.MaxFrames = 1
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{
		facePath:      job.FacePath,
		sourceRegions: sourceFace(),
		frameRegions:  []compositor.Region{{X: 10, Y: 10, Width: 20, Height: 20, Confidence: 0.8}},
	}
	processor := New(cfg, store, detector, logging.NewNop())

	if err := processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	loaded, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.FacesFound != 1 {
		t.Fatalf("expected only the first frame processed, got %d faces", loaded.FacesFound)
	}

	out, err := os.Open(loaded.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	result, err := timeline.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("expected all frames retained in output, got %d", result.Len())
	}
	// Capped frames pass through untouched.
	last := result.Frames[2].RGBAAt(20, 20)
	if last.B <= last.R {
		t.Fatalf("expected capped frame untouched, got %+v", last)
	}
}

func TestProcessReportsProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{facePath: job.FacePath, sourceRegions: sourceFace()}
	var stages []string
	processor := New(cfg, store, detector, logging.NewNop(),
		WithProgress(func(stage string, done, total int) {
			if len(stages) == 0 || stages[len(stages)-1] != stage {
				stages = append(stages, stage)
			}
		}))

	if err := processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	want := []string{"detecting source face", "decoding frames", "replacing faces", "compositing", "encoding gif"}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i, stage := range want {
		if stages[i] != stage {
			t.Fatalf("expected stage %q at %d, got %v", stage, i, stages)
		}
	}
}

func TestManagerDrainsQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStrategy(config.StrategyPure))
	store := newTestStore(t, cfg)
	job := newTestJob(t, cfg, store)

	detector := &stubDetector{facePath: job.FacePath, sourceRegions: sourceFace()}
	processor := New(cfg, store, detector, logging.NewNop())
	manager := NewManager(cfg, store, processor, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()
	manager.Wake()

	deadline := time.Now().Add(10 * time.Second)
	for {
		loaded, err := store.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob returned error: %v", err)
		}
		if loaded.Status.IsTerminal() {
			if loaded.Status != queue.StatusCompleted {
				t.Fatalf("expected completed job, got %s (%s)", loaded.Status, loaded.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish in time, status %s", loaded.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("manager shutdown returned error: %v", err)
	}
}
