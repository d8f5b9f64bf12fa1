package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"gifswap/internal/config"
	"gifswap/internal/deps"
)

func stubBinary(t *testing.T, name string) {
	t.Helper()
	binDir := t.TempDir()
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestCheckBinariesReportsMissing(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Face detector", Command: "definitely-not-a-real-binary-xyz"},
	})
	if len(statuses) != 1 {
		t.Fatalf("expected one status, got %d", len(statuses))
	}
	if statuses[0].Available {
		t.Fatal("expected missing binary to be unavailable")
	}
	if statuses[0].Detail == "" {
		t.Fatal("expected detail for missing binary")
	}
}

func TestCheckBinariesFindsStub(t *testing.T) {
	stubBinary(t, "facefind")
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Face detector", Command: "facefind"},
	})
	if !statuses[0].Available {
		t.Fatalf("expected stub binary to be found: %+v", statuses[0])
	}
}

func TestCheckBinariesEmptyCommand(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{{Name: "Detector", Command: "  "}})
	if statuses[0].Available || statuses[0].Detail != "command not configured" {
		t.Fatalf("unexpected status %+v", statuses[0])
	}
}

func TestRequirementsRespectStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.Strategy = config.StrategyPure
	reqs := deps.Requirements(&cfg)
	for _, req := range reqs {
		switch req.Name {
		case "FFmpeg", "FFprobe":
			if !req.Optional {
				t.Fatalf("%s should be optional under pure strategy", req.Name)
			}
		case "Face detector":
			if req.Optional {
				t.Fatal("detector must always be required")
			}
		}
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []deps.Status{
		{Name: "Face detector", Available: false},
		{Name: "FFmpeg", Available: false, Optional: true},
		{Name: "FFprobe", Available: true},
	}
	missing := deps.MissingRequired(statuses)
	if len(missing) != 1 || missing[0].Name != "Face detector" {
		t.Fatalf("unexpected missing set %+v", missing)
	}
}
