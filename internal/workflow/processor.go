package workflow

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gifswap/internal/compositor"
	"gifswap/internal/config"
	"gifswap/internal/detect"
	"gifswap/internal/ffmpeg"
	"gifswap/internal/imageio"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/services"
	"gifswap/internal/staging"
	"gifswap/internal/timeline"
)

// sourcePadRatio grows the detected source box so the extracted patch keeps
// hair and chin context.
const sourcePadRatio = 0.4

// ProgressFunc receives per-stage progress while a job runs.
type ProgressFunc func(stage string, done, total int)

// Processor runs face-replacement jobs end to end: source face detection,
// frame extraction, per-frame compositing, and GIF assembly.
type Processor struct {
	cfg      *config.Config
	store    *queue.Store
	detector detect.Detector
	ffmpeg   ffmpeg.Client
	logger   *slog.Logger
	progress ProgressFunc
}

// Option configures a Processor.
type Option func(*Processor)

// WithFFmpegClient overrides the ffmpeg client.
func WithFFmpegClient(client ffmpeg.Client) Option {
	return func(p *Processor) {
		if client != nil {
			p.ffmpeg = client
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Processor) {
		p.progress = fn
	}
}

// New constructs a Processor. The store may be nil for one-shot runs that do
// not persist job state.
func New(cfg *config.Config, store *queue.Store, detector detect.Detector, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Processor{
		cfg:      cfg,
		store:    store,
		detector: detector,
		ffmpeg:   ffmpeg.NewCLI(ffmpeg.WithBinaries(cfg.FFmpegBinary(), cfg.FFprobeBinary())),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the job to completion, persisting state transitions through
// the store. The job's staging workspace is removed on both success and
// failure; a removal that fails is left for the stale sweep.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	ctx = services.WithJobID(ctx, job.ID)
	logger := p.logger.With(logging.String(logging.FieldJobID, job.ID))

	ws, err := staging.NewWorkspace(p.cfg.Paths.StagingDir, job.ID, logger)
	if err != nil {
		return p.fail(ctx, job, services.Wrap(services.ErrProcessingFailed, "workflow", "prepare workspace", "", err))
	}
	defer ws.Cleanup()

	logger.Info("job started",
		logging.String("strategy", p.strategy(job)),
		logging.String("gif", filepath.Base(job.GifPath)))
	started := time.Now()

	patch, err := p.detectSourceFace(ctx, job)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	outputPath := filepath.Join(p.cfg.Paths.OutputDir, job.ID+".gif")
	switch p.strategy(job) {
	case config.StrategyFFmpeg:
		err = p.processExternal(ctx, job, ws, patch, outputPath)
	default:
		err = p.processPure(ctx, job, ws, patch, outputPath)
	}
	if err != nil {
		return p.fail(ctx, job, err)
	}

	job.Status = queue.StatusCompleted
	job.OutputPath = outputPath
	job.ProgressStage = "completed"
	job.ProgressPercent = 100
	if err := p.persist(ctx, job); err != nil {
		return err
	}
	logger.Info("job completed",
		logging.String("output", outputPath),
		logging.Int("frames", job.FramesTotal),
		logging.Int("faces", job.FacesFound),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

func (p *Processor) strategy(job *queue.Job) string {
	if job.Strategy != "" {
		return job.Strategy
	}
	return p.cfg.Processing.Strategy
}

// blendStrength prefers the job's explicit value, including 0, over the
// configured default.
func (p *Processor) blendStrength(job *queue.Job) float64 {
	if job.BlendStrength != nil {
		return *job.BlendStrength
	}
	return p.cfg.Processing.BlendStrength
}

// detectSourceFace finds the largest face in the reference image and crops a
// padded patch around it. Zero detections fail the job before any frame work.
func (p *Processor) detectSourceFace(ctx context.Context, job *queue.Job) (*image.RGBA, error) {
	if err := p.transition(ctx, job, queue.StatusDetectingSource, "detecting source face"); err != nil {
		return nil, err
	}

	faceImg, err := imageio.Load(job.FacePath)
	if err != nil {
		return nil, services.Wrap(services.ErrProcessingFailed, "workflow", "load source image", "", err)
	}

	regions, err := p.detector.Detect(ctx, job.FacePath)
	if err != nil {
		return nil, services.Wrap(services.ErrProcessingFailed, "workflow", "detect source face", "", err)
	}
	best, ok := detect.Largest(regions)
	if !ok {
		return nil, services.Wrap(services.ErrNoSourceFace, "workflow", "detect source face",
			fmt.Sprintf("no face found in %s", filepath.Base(job.FacePath)), nil)
	}

	padded := detect.Pad(best, sourcePadRatio, faceImg.Bounds())
	if padded.Empty() {
		return nil, services.Wrap(services.ErrNoSourceFace, "workflow", "detect source face",
			"detected face region is empty after padding", nil)
	}
	patch, ok := faceImg.SubImage(padded.Rect()).(*image.RGBA)
	if !ok {
		return nil, services.Wrap(services.ErrProcessingFailed, "workflow", "crop source face", "", nil)
	}
	return patch, nil
}

// processPure runs decode, composite, and encode entirely in process.
func (p *Processor) processPure(ctx context.Context, job *queue.Job, ws *staging.Workspace, patch *image.RGBA, outputPath string) error {
	if err := p.transition(ctx, job, queue.StatusExtracting, "decoding frames"); err != nil {
		return err
	}

	in, err := os.Open(job.GifPath)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "open gif", "", err)
	}
	tl, err := timeline.Decode(in)
	in.Close()
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "decode gif", "", err)
	}

	if err := p.transition(ctx, job, queue.StatusCompositing, "replacing faces"); err != nil {
		return err
	}

	ctx = services.WithStage(ctx, "compositing")
	job.FramesTotal = tl.Len()
	limit := p.frameLimit(tl.Len())
	strength := p.blendStrength(job)
	for i, frame := range tl.Frames {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrProcessingFailed, "workflow", "composite frames", "cancelled", err)
		}
		if i >= limit {
			break
		}
		// The external detector reads files, so each frame is staged as a PNG
		// before detection.
		framePath := filepath.Join(ws.FramesDir, fmt.Sprintf("frame_%04d.png", i+1))
		if err := imageio.WritePNG(framePath, frame); err != nil {
			return services.Wrap(services.ErrProcessingFailed, "workflow", "stage frame", "", err)
		}
		tl.Frames[i] = p.replaceFaces(ctx, job, frame, framePath, patch, strength)
		p.reportProgress(ctx, job, "compositing", i+1, tl.Len())
	}

	if err := p.transition(ctx, job, queue.StatusEncoding, "encoding gif"); err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "create output", "", err)
	}
	if err := timeline.Encode(out, tl); err != nil {
		out.Close()
		_ = os.Remove(outputPath)
		return services.Wrap(services.ErrProcessingFailed, "workflow", "encode gif", "", err)
	}
	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "write output", "", err)
	}
	return nil
}

// processExternal extracts frames with ffmpeg, composites the PNG files in
// place, and reassembles with a generated palette.
func (p *Processor) processExternal(ctx context.Context, job *queue.Job, ws *staging.Workspace, patch *image.RGBA, outputPath string) error {
	if err := p.transition(ctx, job, queue.StatusExtracting, "extracting frames"); err != nil {
		return err
	}

	framePaths, meta, err := p.ffmpeg.ExtractFrames(ctx, job.GifPath, ws.FramesDir)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "extract frames", "", err)
	}

	if err := p.transition(ctx, job, queue.StatusCompositing, "replacing faces"); err != nil {
		return err
	}

	ctx = services.WithStage(ctx, "compositing")
	job.FramesTotal = len(framePaths)
	limit := p.frameLimit(len(framePaths))
	strength := p.blendStrength(job)
	for i, framePath := range framePaths {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrProcessingFailed, "workflow", "composite frames", "cancelled", err)
		}
		name := fmt.Sprintf("frame_%04d.png", i+1)
		processedPath := filepath.Join(ws.ProcessedDir, name)
		if i >= limit {
			if err := p.copyFrame(framePath, processedPath); err != nil {
				return err
			}
			continue
		}

		frame, err := imageio.ReadPNG(framePath)
		if err != nil {
			return services.Wrap(services.ErrProcessingFailed, "workflow", "read frame", "", err)
		}
		result := p.replaceFaces(ctx, job, frame, framePath, patch, strength)
		if err := imageio.WritePNG(processedPath, result); err != nil {
			return services.Wrap(services.ErrProcessingFailed, "workflow", "write frame", "", err)
		}
		p.reportProgress(ctx, job, "compositing", i+1, len(framePaths))
	}

	if err := p.transition(ctx, job, queue.StatusEncoding, "assembling gif"); err != nil {
		return err
	}
	if err := p.ffmpeg.AssembleGIF(ctx, ws.ProcessedDir, outputPath, meta.FPS); err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "assemble gif", "", err)
	}
	return nil
}

// replaceFaces composites the patch over every face found in the frame. A
// detector failure or an empty detection passes the frame through unchanged.
func (p *Processor) replaceFaces(ctx context.Context, job *queue.Job, frame *image.RGBA, framePath string, patch *image.RGBA, strength float64) *image.RGBA {
	regions, err := p.detector.Detect(ctx, framePath)
	if err != nil {
		logging.WithContext(ctx, p.logger).Warn("frame detection failed, passing frame through",
			logging.String("frame", filepath.Base(framePath)),
			logging.Error(err))
		return frame
	}
	if len(regions) == 0 {
		return frame
	}
	job.FacesFound += len(regions)
	return compositor.ApplyAll(frame, regions, patch, strength)
}

func (p *Processor) frameLimit(total int) int {
	if p.cfg.Processing.MaxFrames > 0 && p.cfg.Processing.MaxFrames < total {
		return p.cfg.Processing.MaxFrames
	}
	return total
}

func (p *Processor) copyFrame(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "copy frame", "", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return services.Wrap(services.ErrProcessingFailed, "workflow", "copy frame", "", err)
	}
	return nil
}

func (p *Processor) transition(ctx context.Context, job *queue.Job, status queue.Status, stage string) error {
	job.Status = status
	job.ProgressStage = stage
	if p.progress != nil {
		p.progress(stage, 0, 0)
	}
	return p.persist(ctx, job)
}

func (p *Processor) reportProgress(ctx context.Context, job *queue.Job, stage string, done, total int) {
	job.FramesDone = done
	if total > 0 {
		job.ProgressPercent = float64(done) / float64(total) * 100
	}
	if p.progress != nil {
		p.progress(stage, done, total)
	}
	if p.store != nil {
		if err := p.store.SetProgress(ctx, job.ID, stage, job.ProgressPercent, done, total); err != nil {
			p.logger.Warn("failed to persist progress",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
}

func (p *Processor) persist(ctx context.Context, job *queue.Job) error {
	if p.store == nil {
		return nil
	}
	return p.store.UpdateJob(ctx, job)
}

func (p *Processor) fail(ctx context.Context, job *queue.Job, cause error) error {
	job.Status = queue.StatusFailed
	job.ErrorMessage = cause.Error()
	logger := logging.WithContext(ctx, p.logger)
	if err := p.persist(ctx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	logger.Error("job failed",
		logging.String(logging.FieldStage, job.ProgressStage),
		logging.Error(cause))
	return cause
}
