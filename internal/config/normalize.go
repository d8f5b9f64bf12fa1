package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProcessing()
	c.normalizeDetector()
	c.normalizeRetention()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeProcessing() {
	c.Processing.Strategy = strings.ToLower(strings.TrimSpace(c.Processing.Strategy))
	if c.Processing.Strategy == "" {
		c.Processing.Strategy = defaultStrategy
	}
	if c.Processing.MaxConcurrentJobs <= 0 {
		c.Processing.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Processing.MaxDownloadMB <= 0 {
		c.Processing.MaxDownloadMB = defaultMaxDownloadMB
	}
	if c.Processing.DownloadTimeout <= 0 {
		c.Processing.DownloadTimeout = defaultDownloadTimeout
	}
	if c.Processing.MaxFrames < 0 {
		c.Processing.MaxFrames = 0
	}
	c.Processing.FFmpegCommand = strings.TrimSpace(c.Processing.FFmpegCommand)
	if c.Processing.FFmpegCommand == "" {
		c.Processing.FFmpegCommand = defaultFFmpegCommand
	}
	c.Processing.FFprobeCommand = strings.TrimSpace(c.Processing.FFprobeCommand)
	if c.Processing.FFprobeCommand == "" {
		c.Processing.FFprobeCommand = defaultFFprobeCommand
	}
}

func (c *Config) normalizeDetector() {
	c.Detector.Command = strings.TrimSpace(c.Detector.Command)
	if c.Detector.Command == "" {
		c.Detector.Command = defaultDetectorCommand
	}
	c.Detector.Model = strings.ToLower(strings.TrimSpace(c.Detector.Model))
	if c.Detector.Model == "" {
		c.Detector.Model = defaultDetectorModel
	}
	if c.Detector.Timeout <= 0 {
		c.Detector.Timeout = defaultDetectorTimeout
	}
}

func (c *Config) normalizeRetention() {
	if c.Retention.OutputSeconds <= 0 {
		c.Retention.OutputSeconds = defaultOutputSeconds
	}
	if c.Retention.StagingMaxAgeSeconds <= 0 {
		c.Retention.StagingMaxAgeSeconds = defaultStagingMaxAge
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = defaultSweepInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
