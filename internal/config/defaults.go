package config

const (
	defaultStagingDir        = "~/.local/share/gifswap/staging"
	defaultOutputDir         = "~/.local/share/gifswap/outputs"
	defaultLogDir            = "~/.local/share/gifswap/logs"
	defaultAPIBind           = "127.0.0.1:7810"
	defaultBlendStrength     = 0.9
	defaultStrategy          = StrategyFFmpeg
	defaultMaxConcurrentJobs = 2
	defaultMaxDownloadMB     = 32
	defaultDownloadTimeout   = 60
	defaultFFmpegCommand     = "ffmpeg"
	defaultFFprobeCommand    = "ffprobe"
	defaultDetectorCommand   = "facefind"
	defaultDetectorModel     = "hog"
	defaultDetectorTimeout   = 120
	defaultOutputSeconds     = 3600
	defaultStagingMaxAge     = 3600
	defaultSweepInterval     = 300
	defaultLogFormat         = "auto"
	defaultLogLevel          = "info"
)

// Strategy values accepted by processing.strategy.
const (
	StrategyFFmpeg = "ffmpeg"
	StrategyPure   = "pure"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Processing: Processing{
			BlendStrength:     defaultBlendStrength,
			Strategy:          defaultStrategy,
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			MaxDownloadMB:     defaultMaxDownloadMB,
			DownloadTimeout:   defaultDownloadTimeout,
			FFmpegCommand:     defaultFFmpegCommand,
			FFprobeCommand:    defaultFFprobeCommand,
		},
		Detector: Detector{
			Command: defaultDetectorCommand,
			Model:   defaultDetectorModel,
			Timeout: defaultDetectorTimeout,
		},
		Retention: Retention{
			OutputSeconds:        defaultOutputSeconds,
			StagingMaxAgeSeconds: defaultStagingMaxAge,
			SweepInterval:        defaultSweepInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
