// Package session implements the timelapse session state machine: interval
// scheduling, the per-shot shoot/wait/record cycle, overtime accounting, and
// the failure-rate circuit breaker. See spec.md §4.3.
package session

import (
	"context"
	"time"

	"github.com/fieldcam/camctl/internal/cameraio"
	"github.com/fieldcam/camctl/internal/eventpoll"
)

// State is the session's lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Terminal reports whether s cannot transition further.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateError
}

// StopCondition selects how a session decides it is done.
type StopCondition string

const (
	StopUnlimited  StopCondition = "unlimited"
	StopAfterShots StopCondition = "stop-after"
	StopAtTime     StopCondition = "stop-at"
)

// Config is a session's start-time configuration.
type Config struct {
	IntervalSeconds int
	StopCondition   StopCondition
	TotalShots      int       // used when StopCondition == StopAfterShots or derived for StopAtTime
	StopAt          time.Time // used when StopCondition == StopAtTime
	Title           string    // defaults to YYYYMMDD-HHmmss local time if empty
}

// ShotError records one failed shot.
type ShotError struct {
	ShotNumber int
	Error      string
	Timestamp  time.Time
}

// Stats is the session's shot statistics bundle. See spec.md §3.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	ShotsTaken     int
	ShotsSuccessful int
	ShotsFailed    int
	CurrentShot    int

	Errors []ShotError

	OvertimeShots          int
	TotalOvertimeSeconds   float64
	MaxOvertimeSeconds     float64
	LastShotDurationSeconds float64
	TotalShotDurationSeconds float64

	FirstImageName string
	LastImageName  string
}

// SuccessRate returns ShotsSuccessful/ShotsTaken, or 1 when no shots have
// been taken yet.
func (s Stats) SuccessRate() float64 {
	if s.ShotsTaken == 0 {
		return 1
	}
	return float64(s.ShotsSuccessful) / float64(s.ShotsTaken)
}

// AverageShotDuration returns TotalShotDurationSeconds/ShotsSuccessful, or 0
// when no shot has succeeded yet.
func (s Stats) AverageShotDuration() float64 {
	if s.ShotsSuccessful == 0 {
		return 0
	}
	return s.TotalShotDurationSeconds / float64(s.ShotsSuccessful)
}

// CoordinatorHandle is the subset of *cameraio.Coordinator a session needs.
// The session never caches a raw pointer to the coordinator's internals: it
// holds this handle, so a coordinator reconnection (which mutates the
// coordinator's own state, not its identity) is always transparent. See
// spec.md §9's "coordinator handle" redesign note.
type CoordinatorHandle interface {
	eventpoll.Requester

	Connected() bool
	TakePhoto(ctx context.Context) error
	ValidateInterval(ctx context.Context, seconds int) (bool, string)
	GetDeviceInfo(ctx context.Context) (cameraio.DeviceInfo, error)
	GetSettings(ctx context.Context) (map[string]any, error)

	PauseInfoPolling()
	ResumeInfoPolling()
	PauseConnectionMonitor()
	ResumeConnectionMonitor()
}
