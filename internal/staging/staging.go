package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gifswap/internal/logging"
)

// Workspace is a per-job scratch directory under the staging root. All
// intermediate artifacts for a job live inside it so cleanup is a single
// directory removal.
type Workspace struct {
	Root         string
	FramesDir    string
	ProcessedDir string
	logger       *slog.Logger
}

// NewWorkspace creates the job's staging directory tree.
func NewWorkspace(stagingDir, jobID string, logger *slog.Logger) (*Workspace, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, fmt.Errorf("staging directory required")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ws := &Workspace{
		Root:         filepath.Join(stagingDir, jobID),
		FramesDir:    filepath.Join(stagingDir, jobID, "frames"),
		ProcessedDir: filepath.Join(stagingDir, jobID, "processed"),
		logger:       logger,
	}
	for _, dir := range []string{ws.Root, ws.FramesDir, ws.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create staging directory %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Path returns a file path inside the workspace root.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// Cleanup removes the workspace. Best effort; a failed removal is logged and
// left for the stale sweep.
func (w *Workspace) Cleanup() {
	if w == nil || w.Root == "" {
		return
	}
	if err := os.RemoveAll(w.Root); err != nil {
		w.logger.Warn("failed to remove staging workspace",
			logging.String("path", w.Root),
			logging.Error(err))
	}
}

// CleanStaleResult contains the outcome of a cleanup sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes staging directories older than maxAge. Workspaces for
// jobs that crashed mid-flight end up here once their mtime ages out.
func CleanStale(stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale staging directory",
					logging.String("path", dirPath),
					logging.Error(err))
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale staging directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())))
		}
	}

	return result
}

// SweepOutputs removes finished GIFs older than maxAge from the output
// directory so served results do not accumulate forever.
func SweepOutputs(outputDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" || maxAge <= 0 {
		return result
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: outputDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gif") {
			continue
		}

		path := filepath.Join(outputDir, name)
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove expired output",
					logging.String("path", path),
					logging.Error(err))
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed expired output",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())))
		}
	}

	return result
}
