package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gifswap/internal/logging"
)

func TestNewWorkspaceCreatesTree(t *testing.T) {
	stagingDir := t.TempDir()

	ws, err := NewWorkspace(stagingDir, "job-123", logging.NewNop())
	if err != nil {
		t.Fatalf("NewWorkspace returned error: %v", err)
	}

	for _, dir := range []string{ws.Root, ws.FramesDir, ws.ProcessedDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
	if ws.Root != filepath.Join(stagingDir, "job-123") {
		t.Fatalf("unexpected workspace root %s", ws.Root)
	}
	if ws.Path("source.gif") != filepath.Join(ws.Root, "source.gif") {
		t.Fatalf("unexpected workspace path %s", ws.Path("source.gif"))
	}
}

func TestNewWorkspaceValidatesInput(t *testing.T) {
	if _, err := NewWorkspace("", "job", nil); err == nil {
		t.Fatal("expected error for empty staging directory")
	}
	if _, err := NewWorkspace(t.TempDir(), "", nil); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestWorkspaceCleanup(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "job-rm", logging.NewNop())
	if err != nil {
		t.Fatalf("NewWorkspace returned error: %v", err)
	}
	if err := os.WriteFile(ws.Path("source.gif"), []byte("gif"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ws.Cleanup()

	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed, got %v", err)
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	stagingDir := t.TempDir()

	oldDir := filepath.Join(stagingDir, "old-job")
	newDir := filepath.Join(stagingDir, "new-job")
	for _, dir := range []string{oldDir, newDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := CleanStale(stagingDir, time.Hour, logging.NewNop())

	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only old directory removed, got %v", result.Removed)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("expected fresh directory to survive: %v", err)
	}
}

func TestCleanStaleMissingDirectory(t *testing.T) {
	result := CleanStale(filepath.Join(t.TempDir(), "missing"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result for missing directory, got %+v", result)
	}
}

func TestSweepOutputsRemovesExpiredGIFs(t *testing.T) {
	outputDir := t.TempDir()

	expired := filepath.Join(outputDir, "done.gif")
	fresh := filepath.Join(outputDir, "recent.gif")
	other := filepath.Join(outputDir, "notes.txt")
	for _, path := range []string{expired, fresh, other} {
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(expired, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := SweepOutputs(outputDir, time.Hour, logging.NewNop())

	if len(result.Removed) != 1 || result.Removed[0] != expired {
		t.Fatalf("expected only expired gif removed, got %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh gif to survive: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected non-gif file to survive: %v", err)
	}
}

func TestSweepOutputsDisabledRetention(t *testing.T) {
	outputDir := t.TempDir()
	path := filepath.Join(outputDir, "keep.gif")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := SweepOutputs(outputDir, 0, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("expected retention to be disabled, got %v", result.Removed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to survive: %v", err)
	}
}
