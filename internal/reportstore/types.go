// Package reportstore persists finished timelapse session reports as
// individual JSON blobs on local disk, append-only except for title edits.
package reportstore

import "time"

// ShotError records one failed shot.
type ShotError struct {
	ShotNumber int       `json:"shot_number"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// Intervalometer is the session's scheduling configuration, frozen into the
// report.
type Intervalometer struct {
	IntervalSeconds int        `json:"interval"`
	NumberOfShots   *int       `json:"number_of_shots,omitempty"`
	StopCondition   string     `json:"stop_condition"`
	StopAt          *time.Time `json:"stop_at,omitempty"`
}

// Results is the shot outcome summary frozen into the report.
type Results struct {
	ImagesCaptured  int         `json:"images_captured"`
	ImagesSuccessful int        `json:"images_successful"`
	ImagesFailed    int         `json:"images_failed"`
	FirstImageName  string      `json:"first_image_name,omitempty"`
	LastImageName   string      `json:"last_image_name,omitempty"`
	Errors          []ShotError `json:"errors"`
}

// Metadata carries bookkeeping fields not part of the session's own data.
type Metadata struct {
	SavedAt         time.Time `json:"saved_at"`
	Version         int       `json:"version"`
	CompletionReason string   `json:"completion_reason"`
}

// Report is a persisted, terminal-state snapshot of a timelapse session. See
// spec.md §3 "Session report." Immutable after save except for Title.
type Report struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Status    string `json:"status"` // completed | stopped | error

	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs int64     `json:"duration_ms"`

	Intervalometer Intervalometer `json:"intervalometer"`
	Results        Results        `json:"results"`

	CameraInfo     map[string]any `json:"camera_info,omitempty"`
	CameraSettings map[string]any `json:"camera_settings,omitempty"`

	Metadata Metadata `json:"metadata"`
}
