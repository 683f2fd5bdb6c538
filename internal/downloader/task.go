package downloader

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/shiquda/xyz-dl/internal/api"
	"github.com/shiquda/xyz-dl/internal/util/files"
)

// TaskState is the per-download state machine:
// Pending → InProgress → {Completed, Failed, Skipped}.
type TaskState int

const (
	StatePending TaskState = iota
	StateInProgress
	StateCompleted
	StateFailed
	StateSkipped
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// Task is one episode transfer. The engine owns it for the duration of a
// Run; completion order across workers is unordered, so consumers
// correlate by ID, never by position in time.
type Task struct {
	ID          string
	Index       int // 1-based position in the run, oldest episode first
	Episode     api.EpisodeRecord
	Destination string
	State       TaskState
	Err         error
	// BytesWritten is the final on-disk size for completed or skipped
	// tasks.
	BytesWritten int64
	// PlaceholderSuspected marks a completed task whose final size is
	// suspiciously small for a non-entitled episode: the platform served
	// a preview placeholder, not the full asset.
	PlaceholderSuspected bool
}

func (t *Task) Filename() string {
	return filepath.Base(t.Destination)
}

// ProgressPhase tags progress events.
type ProgressPhase int

const (
	PhaseProbing ProgressPhase = iota + 1
	PhaseTransferring
	PhaseDone
)

// ProgressEvent is the coalesced transfer progress emitted to the
// orchestrator. BytesTotal is 0 when the remote size is unknown.
type ProgressEvent struct {
	TaskID     string
	Index      int
	Title      string
	BytesDone  int64
	BytesTotal int64
	Phase      ProgressPhase
}

// BuildTasks lays out one task per episode under dir. Episodes are
// expected in run order (oldest first); the index becomes the filename
// prefix so the directory sorts chronologically.
func BuildTasks(episodes []api.EpisodeRecord, dir string) []Task {
	return lo.Map(episodes, func(ep api.EpisodeRecord, i int) Task {
		name := fmt.Sprintf("%03d. %s%s",
			i+1, files.SanitizeFilename(ep.Title), files.AudioExtension(ep.AudioURL))
		return Task{
			ID:          uuid.NewString(),
			Index:       i + 1,
			Episode:     ep,
			Destination: filepath.Join(dir, name),
			State:       StatePending,
		}
	})
}
