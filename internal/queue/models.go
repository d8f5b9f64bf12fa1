package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending         Status = "pending"
	StatusDetectingSource Status = "detecting_source"
	StatusExtracting      Status = "extracting"
	StatusCompositing     Status = "compositing"
	StatusEncoding        Status = "encoding"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// DaemonStopReason is the error message set on jobs failed by shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusDetectingSource,
	StatusExtracting,
	StatusCompositing,
	StatusEncoding,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDetectingSource: {},
	StatusExtracting:      {},
	StatusCompositing:     {},
	StatusEncoding:        {},
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.TrimSpace(strings.ToLower(raw)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing reports whether the status marks active work.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// Job represents a face-replacement job persisted in SQLite.
// BlendStrength is nil when the request did not supply one; an explicit 0 is
// a valid value and must not fall back to the configured default.
type Job struct {
	ID              string
	Status          Status
	Strategy        string
	GifPath         string
	FacePath        string
	OutputPath      string
	BlendStrength   *float64
	ErrorMessage    string
	ProgressStage   string
	ProgressPercent float64
	FramesTotal     int
	FramesDone      int
	FacesFound      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
