package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"gifswap/internal/config"
	"gifswap/internal/detect"
	"gifswap/internal/fileutil"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var facePath string
	var outputPath string
	var strategy string
	var blendStrength float64

	cmd := &cobra.Command{
		Use:   "process <gif>",
		Short: "Replace faces in a GIF without the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if facePath == "" {
				return fmt.Errorf("--face is required")
			}
			gifPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			absFace, err := filepath.Abs(facePath)
			if err != nil {
				return err
			}
			if strategy != "" {
				if strategy != config.StrategyFFmpeg && strategy != config.StrategyPure {
					return fmt.Errorf("strategy must be %q or %q", config.StrategyFFmpeg, config.StrategyPure)
				}
			}
			var blend *float64
			if cmd.Flags().Changed("blend") {
				if blendStrength < 0 || blendStrength > 1 {
					return fmt.Errorf("--blend must be within [0, 1]")
				}
				blend = &blendStrength
			}

			logger, err := logging.New(logging.Options{
				Level:  "warn",
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			detector := detect.NewCLI(
				detect.WithBinary(cfg.Detector.Command),
				detect.WithModel(cfg.Detector.Model),
				detect.WithMinConfidence(cfg.Detector.MinConfidence),
				detect.WithTimeout(time.Duration(cfg.Detector.Timeout)*time.Second))

			var bar *progressbar.ProgressBar
			processor := workflow.New(cfg, nil, detector, logger,
				workflow.WithProgress(func(stage string, done, total int) {
					if total == 0 {
						if bar != nil {
							_ = bar.Finish()
							bar = nil
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "%s...\n", stage)
						return
					}
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription(stage),
							progressbar.OptionSetWidth(40),
							progressbar.OptionShowCount(),
							progressbar.OptionThrottle(100*time.Millisecond),
							progressbar.OptionClearOnFinish(),
						)
					}
					_ = bar.Set(done)
				}))

			job := &queue.Job{
				ID:            queue.NewJobID(),
				GifPath:       gifPath,
				FacePath:      absFace,
				Strategy:      strategy,
				BlendStrength: blend,
			}
			if err := processor.Process(cmd.Context(), job); err != nil {
				return err
			}
			if bar != nil {
				_ = bar.Finish()
			}

			if outputPath != "" {
				dest, err := filepath.Abs(outputPath)
				if err != nil {
					return err
				}
				if err := fileutil.MoveFile(job.OutputPath, dest); err != nil {
					return fmt.Errorf("move output: %w", err)
				}
				job.OutputPath = dest
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d frames, %d faces replaced)\n",
				job.OutputPath, job.FramesTotal, job.FacesFound)
			return nil
		},
	}

	cmd.Flags().StringVarP(&facePath, "face", "f", "", "Path to the replacement face image")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "", "Output GIF path (defaults to the output directory)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Processing strategy: ffmpeg or pure (defaults to config)")
	cmd.Flags().Float64Var(&blendStrength, "blend", 0, "Blend strength 0-1 (defaults to config)")
	_ = cmd.MarkFlagRequired("face")

	// The --out parent directory must exist before processing starts.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if outputPath == "" {
			return nil
		}
		dir := filepath.Dir(outputPath)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("output directory %s does not exist", dir)
		}
		return nil
	}

	return cmd
}
