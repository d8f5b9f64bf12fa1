package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Processing contains defaults for the face replacement pipeline.
type Processing struct {
	// BlendStrength is the default mask strength applied when a request does
	// not supply one. Must be within [0, 1].
	BlendStrength float64 `toml:"blend_strength"`
	// Strategy selects the frame extraction/assembly path: "ffmpeg" delegates
	// to the external tool, "pure" runs the in-process codec.
	Strategy string `toml:"strategy"`
	// MaxFrames caps the number of frames whose regions are replaced.
	// Zero means all frames.
	MaxFrames int `toml:"max_frames"`
	// MaxConcurrentJobs bounds jobs processed in parallel by the daemon.
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	// MaxDownloadMB bounds the size of any single remote input.
	MaxDownloadMB int `toml:"max_download_mb"`
	// DownloadTimeout is the per-download timeout in seconds.
	DownloadTimeout int `toml:"download_timeout"`
	// FFmpegCommand and FFprobeCommand override the executables used by the
	// ffmpeg strategy, mirroring detector.command.
	FFmpegCommand  string `toml:"ffmpeg_command"`
	FFprobeCommand string `toml:"ffprobe_command"`
}

// Detector contains configuration for the external face detector.
type Detector struct {
	Command       string  `toml:"command"`
	Model         string  `toml:"model"`
	MinConfidence float64 `toml:"min_confidence"`
	Timeout       int     `toml:"timeout"`
}

// Retention contains cleanup timing for ephemeral job artifacts.
type Retention struct {
	// OutputSeconds is how long produced GIFs stay downloadable.
	OutputSeconds int `toml:"output_seconds"`
	// StagingMaxAgeSeconds is the age beyond which working directories are
	// considered stale and swept.
	StagingMaxAgeSeconds int `toml:"staging_max_age_seconds"`
	// SweepInterval is how often the daemon runs both sweeps, in seconds.
	SweepInterval int `toml:"sweep_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for gifswap.
//
// Configuration sections by subsystem:
//   - Paths: staging/output/log directories and API bind address
//   - Processing: pipeline defaults (blend strength, strategy, limits)
//   - Detector: external face detector binary and thresholds
//   - Retention: cleanup windows for working dirs and outputs
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Processing Processing `toml:"processing"`
	Detector   Detector   `toml:"detector"`
	Retention  Retention  `toml:"retention"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gifswap/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The second return is the
// resolved path, the third reports whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gifswap.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for frame extraction.
func (c *Config) FFmpegBinary() string {
	return c.Processing.FFmpegCommand
}

// FFprobeBinary returns the ffprobe executable used for metadata probing.
func (c *Config) FFprobeBinary() string {
	return c.Processing.FFprobeCommand
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
