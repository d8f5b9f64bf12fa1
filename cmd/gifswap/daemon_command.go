package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gifswap/internal/daemon"
	"gifswap/internal/deps"
	"gifswap/internal/detect"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:          "daemon",
		Short:        "Run the gifswap daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonProcess(cmd, ctx)
		},
	}
}

func runDaemonProcess(cmd *cobra.Command, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := filepath.Join(cfg.Paths.LogDir, "gifswapd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: io.MultiWriter(cmd.OutOrStdout(), logFile),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	for _, status := range deps.MissingRequired(deps.CheckBinaries(deps.Requirements(cfg))) {
		logger.Warn("required binary unavailable",
			logging.String("name", status.Name),
			logging.String("command", status.Command),
			logging.String("detail", status.Detail))
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "gifswapd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	detector := detect.NewCLI(
		detect.WithBinary(cfg.Detector.Command),
		detect.WithModel(cfg.Detector.Model),
		detect.WithMinConfidence(cfg.Detector.MinConfidence),
		detect.WithTimeout(time.Duration(cfg.Detector.Timeout)*time.Second))

	processor := workflow.New(cfg, store, detector, logger)
	manager := workflow.NewManager(cfg, store, processor, logger)

	d, err := daemon.New(cfg, store, manager, detector, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	if addr := d.APIAddr(); addr != "" {
		logger.Info("api listening", logging.String("addr", addr))
	}

	<-signalCtx.Done()
	logger.Info("gifswap daemon shutting down")
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
