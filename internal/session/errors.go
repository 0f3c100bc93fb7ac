package session

// InvalidTitleError means a blank title was rejected.
type InvalidTitleError struct{}

func (e *InvalidTitleError) Error() string { return "title must not be blank" }

// InvalidIntervalError wraps the coordinator's validate_interval rejection
// reason.
type InvalidIntervalError struct{ Reason string }

func (e *InvalidIntervalError) Error() string { return "invalid interval: " + e.Reason }

// InvalidConfigError means the start configuration is malformed (e.g. a
// stop-after with zero shots).
type InvalidConfigError struct{ Reason string }

func (e *InvalidConfigError) Error() string { return "invalid session config: " + e.Reason }

// CameraNotConnectedError means start was attempted while the coordinator
// reports disconnected.
type CameraNotConnectedError struct{}

func (e *CameraNotConnectedError) Error() string { return "camera is not connected" }

// AlreadyRunningError means a command that requires created/paused state was
// issued against a running session, or vice versa.
type AlreadyRunningError struct{}

func (e *AlreadyRunningError) Error() string { return "session is already running" }

// NotRunningError means pause/stop was issued against a session that isn't
// running (or paused, for stop).
type NotRunningError struct{ State State }

func (e *NotRunningError) Error() string { return "session is not running (state: " + string(e.State) + ")" }
