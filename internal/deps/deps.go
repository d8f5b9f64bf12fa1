package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"gifswap/internal/config"
)

// Requirement defines an external dependency gifswap relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements returns the external binaries the configured setup needs.
// ffmpeg and ffprobe are optional when the pure strategy is configured; the
// detector binary is always required.
func Requirements(cfg *config.Config) []Requirement {
	pureOnly := cfg != nil && cfg.Processing.Strategy == config.StrategyPure
	detector := "facefind"
	if cfg != nil {
		detector = cfg.Detector.Command
	}
	ffmpeg, ffprobe := "ffmpeg", "ffprobe"
	if cfg != nil {
		ffmpeg = cfg.FFmpegBinary()
		ffprobe = cfg.FFprobeBinary()
	}
	return []Requirement{
		{Name: "Face detector", Command: detector, Description: "Locates face regions in frames"},
		{Name: "FFmpeg", Command: ffmpeg, Description: "Frame extraction and GIF assembly", Optional: pureOnly},
		{Name: "FFprobe", Command: ffprobe, Description: "Animation metadata probing", Optional: pureOnly},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the statuses whose binaries are required but absent.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
