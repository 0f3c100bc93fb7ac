package session

import (
	"context"
	"fmt"
	"math"
	"path"
	"sync"
	"time"

	"github.com/fieldcam/camctl/internal/bus"
	"github.com/fieldcam/camctl/internal/cameraio"
	"github.com/fieldcam/camctl/internal/eventpoll"
	"github.com/fieldcam/camctl/internal/reportstore"
)

const circuitBreakerMinShots = 5
const circuitBreakerFailureRate = 0.5

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdStop
)

// Session drives one timelapse run: the shot scheduler, the per-shot
// shoot/wait/record cycle, and the terminal-state report save. Its
// statistics bundle is owned exclusively by the run goroutine; every other
// method only enqueues a command or takes a locked snapshot. See spec.md
// §4.3.
type Session struct {
	id        string
	createdAt time.Time

	coord CoordinatorHandle
	bus   bus.Publisher
	store *reportstore.Store

	mu     sync.RWMutex
	title  string
	cfg    Config
	state  State
	stats  Stats
	camera cameraio.DeviceInfo
	settings map[string]any

	stopRequested bool
	activeShotCancel context.CancelFunc

	cmds chan command
	done chan struct{}
}

// New creates a session in the created state. cfg.Title, if empty, defaults
// to YYYYMMDD-HHmmss local time.
func New(id string, coord CoordinatorHandle, publisher bus.Publisher, store *reportstore.Store, cfg Config) *Session {
	now := time.Now()
	title := cfg.Title
	if title == "" {
		title = now.Format("20060102-150405")
	}

	return &Session{
		id:        id,
		createdAt: now,
		coord:     coord,
		bus:       publisher,
		store:     store,
		title:     title,
		cfg:       cfg,
		state:     StateCreated,
		cmds:      make(chan command, 4),
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Title returns the current title.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// SetTitle changes the title at any point in the session's lifecycle.
func (s *Session) SetTitle(title string) error {
	if title == "" {
		return &InvalidTitleError{}
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns an immutable snapshot of the current statistics bundle.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Start validates the configuration, snapshots camera identity, pushes the
// coordinator's pause gates, and launches the scheduling loop. See spec.md
// §4.3's start contract.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return &AlreadyRunningError{}
	}
	s.mu.Unlock()

	if !s.coord.Connected() {
		return &CameraNotConnectedError{}
	}

	if s.cfg.StopCondition == StopAfterShots && s.cfg.TotalShots <= 0 {
		return &InvalidConfigError{Reason: "stop-after requires a positive shot count"}
	}

	camera, err := s.coord.GetDeviceInfo(ctx)
	if err != nil {
		camera = cameraio.DeviceInfo{}
	}
	settings, err := s.coord.GetSettings(ctx)
	if err != nil {
		settings = nil
	}

	if valid, reason := s.coord.ValidateInterval(ctx, s.cfg.IntervalSeconds); !valid {
		return &InvalidIntervalError{Reason: reason}
	}

	startTime := time.Now()

	totalShots := s.cfg.TotalShots
	if s.cfg.StopCondition == StopAtTime {
		if s.cfg.StopAt.Before(startTime) {
			return &InvalidConfigError{Reason: "stop_at is in the past"}
		}
		totalShots = int(math.Ceil(s.cfg.StopAt.Sub(startTime).Seconds() / float64(s.cfg.IntervalSeconds)))
	}

	s.coord.PauseInfoPolling()
	s.coord.PauseConnectionMonitor()

	s.mu.Lock()
	s.cfg.TotalShots = totalShots
	s.camera = camera
	s.settings = settings
	s.state = StateRunning
	s.stats = Stats{StartTime: startTime}
	s.mu.Unlock()

	s.done = make(chan struct{})
	go s.run(ctx)

	s.publish("session_started", map[string]any{
		"session_id": s.id,
		"title":      s.Title(),
	})

	return nil
}

// Pause cancels the pending shot timer. Resuming re-derives the next shot
// time from the session's original start time (spec.md's documented
// no-drift-correction behavior — see DESIGN.md's Open Question decision).
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return &NotRunningError{State: state}
	}
	s.state = StatePaused
	s.mu.Unlock()

	s.cmds <- cmdPause
	return nil
}

// Resume re-arms the scheduling loop.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return &NotRunningError{State: state}
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.cmds <- cmdResume
	return nil
}

// Stop requests an immediate terminal transition to stopped. The shutter is
// never cancelled mid-press; only the event-polling wait is cancelled, which
// resolves within 100ms (spec.md §5).
func (s *Session) Stop() error {
	s.mu.Lock()
	state := s.state
	if state.Terminal() {
		s.mu.Unlock()
		return &NotRunningError{State: state}
	}
	s.stopRequested = true
	if s.activeShotCancel != nil {
		s.activeShotCancel()
	}
	s.mu.Unlock()

	s.cmds <- cmdStop
	<-s.done
	return nil
}

// Wait blocks until the session reaches a terminal state.
func (s *Session) Wait() {
	if s.done != nil {
		<-s.done
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	for {
		s.mu.RLock()
		state := s.state
		startTime := s.stats.StartTime
		shotsTaken := s.stats.ShotsTaken
		interval := s.cfg.IntervalSeconds
		s.mu.RUnlock()

		if state == StatePaused {
			if s.awaitResumeOrStop(runCtx) {
				return
			}
			continue
		}

		if s.shouldStop(shotsTaken) {
			s.terminate(StateCompleted, "shot limit reached")
			return
		}

		// A pause or resume can end the wait below early; the next shot
		// still waits for its slot derived from the start time.
		if delay := time.Until(startTime.Add(time.Duration(shotsTaken) * time.Duration(interval) * time.Second)); delay > 0 {
			if s.waitForNextShotOrCommand(runCtx, delay) {
				return
			}
			continue
		}

		shotNumber := shotsTaken + 1
		terminal := s.runShot(runCtx, shotNumber)
		if terminal {
			return
		}

		s.mu.RLock()
		shotsTaken = s.stats.ShotsTaken
		s.mu.RUnlock()
		if s.shouldStop(shotsTaken) {
			s.terminate(StateCompleted, "shot limit reached")
			return
		}

		nextShotTime := startTime.Add(time.Duration(shotsTaken) * time.Duration(interval) * time.Second)
		delay := time.Until(nextShotTime)
		if delay < 0 {
			delay = 0
		}

		if s.waitForNextShotOrCommand(runCtx, delay) {
			return
		}
	}
}

// waitForNextShotOrCommand sleeps until delay elapses or a pause/stop
// command arrives. Returns true if the run loop should exit (stop).
func (s *Session) waitForNextShotOrCommand(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false
	case cmd := <-s.cmds:
		switch cmd {
		case cmdPause:
			return false
		case cmdStop:
			s.terminate(StateStopped, "stop requested")
			return true
		}
		return false
	case <-ctx.Done():
		return true
	}
}

// awaitResumeOrStop blocks while paused. Returns true if the run loop should
// exit.
func (s *Session) awaitResumeOrStop(ctx context.Context) bool {
	select {
	case cmd := <-s.cmds:
		switch cmd {
		case cmdResume:
			return false
		case cmdStop:
			s.terminate(StateStopped, "stop requested")
			return true
		}
		return false
	case <-ctx.Done():
		return true
	}
}

func (s *Session) isStopRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

func (s *Session) shouldStop(shotsTaken int) bool {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	switch cfg.StopCondition {
	case StopUnlimited:
		return false
	case StopAfterShots, StopAtTime:
		return shotsTaken >= cfg.TotalShots
	default:
		return false
	}
}

// runShot executes one shoot/wait/record cycle and returns true if the
// session transitioned to a terminal state (the circuit breaker tripped).
func (s *Session) runShot(ctx context.Context, shotNumber int) bool {
	s.mu.RLock()
	interval := s.cfg.IntervalSeconds
	s.mu.RUnlock()

	shotStart := time.Now()
	perShotTimeout := time.Duration(interval)*time.Second + 30*time.Second
	deadline := shotStart.Add(perShotTimeout)

	shotCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.activeShotCancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.activeShotCancel = nil
		s.mu.Unlock()
	}()

	type waitResult struct {
		path string
		err  error
	}
	waitCh := make(chan waitResult, 1)

	// start the waiter before the shutter press (spec.md §4.2 race invariant)
	go func() {
		p, err := eventpoll.Wait(shotCtx, s.coord, deadline)
		waitCh <- waitResult{p, err}
	}()

	pressErr := s.coord.TakePhoto(ctx)
	if pressErr != nil {
		cancel()
		<-waitCh
		return s.recordFailure(shotNumber, pressErr)
	}

	res := <-waitCh
	duration := time.Since(shotStart).Seconds()

	if res.err != nil {
		if shotCtx.Err() != nil && s.isStopRequested() {
			s.terminate(StateStopped, "stop requested")
			return true
		}
		return s.recordFailure(shotNumber, res.err)
	}

	return s.recordSuccess(shotNumber, path.Base(res.path), duration, interval)
}

func (s *Session) recordSuccess(shotNumber int, filename string, duration float64, interval int) bool {
	s.mu.Lock()
	s.stats.ShotsTaken++
	s.stats.ShotsSuccessful++
	s.stats.CurrentShot = shotNumber
	s.stats.LastShotDurationSeconds = duration
	s.stats.TotalShotDurationSeconds += duration
	if s.stats.FirstImageName == "" {
		s.stats.FirstImageName = filename
	}
	s.stats.LastImageName = filename

	overtime := duration > float64(interval)
	var overtimeSeconds float64
	if overtime {
		overtimeSeconds = duration - float64(interval)
		s.stats.OvertimeShots++
		s.stats.TotalOvertimeSeconds += overtimeSeconds
		if overtimeSeconds > s.stats.MaxOvertimeSeconds {
			s.stats.MaxOvertimeSeconds = overtimeSeconds
		}
	}
	title := s.title
	s.mu.Unlock()

	if overtime {
		s.publish("photo_overtime", map[string]any{
			"session_id":  s.id,
			"title":       title,
			"shot_number": shotNumber,
			"interval":    interval,
			"shot_duration": duration,
			"overtime":    overtimeSeconds,
			"file_path":   filename,
			"message":     fmt.Sprintf("shot %d overran interval by %.1fs", shotNumber, overtimeSeconds),
		})
	}

	s.publish("photo_taken", map[string]any{
		"session_id":  s.id,
		"title":       title,
		"shot_number": shotNumber,
		"file_path":   filename,
		"duration":    duration,
	})

	return false
}

func (s *Session) recordFailure(shotNumber int, shotErr error) bool {
	s.mu.Lock()
	s.stats.ShotsTaken++
	s.stats.ShotsFailed++
	s.stats.CurrentShot = shotNumber
	s.stats.Errors = append(s.stats.Errors, ShotError{
		ShotNumber: shotNumber,
		Error:      shotErr.Error(),
		Timestamp:  time.Now(),
	})
	shotsTaken := s.stats.ShotsTaken
	shotsFailed := s.stats.ShotsFailed
	title := s.title
	s.mu.Unlock()

	s.publish("photo_failed", map[string]any{
		"session_id":  s.id,
		"title":       title,
		"shot_number": shotNumber,
		"error":       shotErr.Error(),
	})

	if shotsTaken > circuitBreakerMinShots && float64(shotsFailed)/float64(shotsTaken) > circuitBreakerFailureRate {
		s.terminate(StateError, "High failure rate detected")
		return true
	}
	return false
}

func (s *Session) terminate(state State, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.stats.EndTime = time.Now()
	stats := s.stats
	title := s.title
	cfg := s.cfg
	camera := s.camera
	settings := s.settings
	s.mu.Unlock()

	s.coord.ResumeInfoPolling()
	s.coord.ResumeConnectionMonitor()

	s.publish(terminalEventKind(state), map[string]any{
		"session_id": s.id,
		"title":      title,
		"reason":     reason,
		"stats":      stats,
	})

	if s.store != nil {
		report := s.buildReport(state, reason, stats, title, cfg, camera, settings)
		if err := s.store.Save(report); err == nil {
			s.publish("session_saved", map[string]any{"session_id": s.id, "report_id": report.ID})
		}
	}
}

func terminalEventKind(state State) string {
	switch state {
	case StateCompleted:
		return "session_completed"
	case StateStopped:
		return "session_stopped"
	default:
		return "session_error"
	}
}

func (s *Session) buildReport(state State, reason string, stats Stats, title string, cfg Config, camera cameraio.DeviceInfo, settings map[string]any) reportstore.Report {
	status := "error"
	switch state {
	case StateCompleted:
		status = "completed"
	case StateStopped:
		status = "stopped"
	}

	var numberOfShots *int
	if cfg.StopCondition != StopUnlimited {
		n := cfg.TotalShots
		numberOfShots = &n
	}
	var stopAt *time.Time
	if cfg.StopCondition == StopAtTime {
		stopAt = &cfg.StopAt
	}

	cameraInfo := map[string]any{
		"model":         camera.Model,
		"serial_number": camera.SerialNumber,
		"firmware":      camera.Firmware,
	}

	return reportstore.Report{
		ID:        s.id,
		SessionID: s.id,
		Title:     title,
		Status:    status,
		StartTime: stats.StartTime,
		EndTime:   stats.EndTime,
		DurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
		Intervalometer: reportstore.Intervalometer{
			IntervalSeconds: cfg.IntervalSeconds,
			NumberOfShots:   numberOfShots,
			StopCondition:   string(cfg.StopCondition),
			StopAt:          stopAt,
		},
		Results: reportstore.Results{
			ImagesCaptured:   stats.ShotsTaken,
			ImagesSuccessful: stats.ShotsSuccessful,
			ImagesFailed:     stats.ShotsFailed,
			FirstImageName:   stats.FirstImageName,
			LastImageName:    stats.LastImageName,
			Errors:           convertErrors(stats.Errors),
		},
		CameraInfo:     cameraInfo,
		CameraSettings: settings,
		Metadata: reportstore.Metadata{
			SavedAt:          time.Now(),
			Version:          1,
			CompletionReason: reason,
		},
	}
}

func convertErrors(errs []ShotError) []reportstore.ShotError {
	out := make([]reportstore.ShotError, len(errs))
	for i, e := range errs {
		out[i] = reportstore.ShotError{ShotNumber: e.ShotNumber, Error: e.Error, Timestamp: e.Timestamp}
	}
	return out
}

func (s *Session) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(kind, payload)
	}
}
