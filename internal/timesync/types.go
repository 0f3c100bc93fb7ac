// Package timesync implements the time-proxy state machine: connected UI
// clients act as trusted proxies for wall-clock time, arbitrated by
// interface tier, with a validity window and a cascade to the tethered
// camera's own clock. See spec.md §4.4.
package timesync

import (
	"context"
	"time"

	"github.com/fieldcam/camctl/internal/bus"
)

// Tier is the interface priority a client connected on. ap0 (the device's
// own hosted access point) always outranks wlan0 (upstream Wi-Fi).
type Tier int

const (
	TierNone Tier = iota
	TierWLAN0
	TierAP0
)

func (t Tier) String() string {
	switch t {
	case TierAP0:
		return "ap0"
	case TierWLAN0:
		return "wlan0"
	default:
		return "none"
	}
}

// State is the machine's single process-global value.
type State struct {
	Tier          Tier
	ClientAddress string
	AcquiredAt    time.Time
}

// IsValid reports whether State is still authoritative: acquired less than
// the validity window ago. A zero Tier is never valid. See I6.
func (s State) IsValid(now time.Time, window time.Duration) bool {
	if s.Tier == TierNone {
		return false
	}
	return now.Sub(s.AcquiredAt) < window
}

// client is a connected UI session eligible to act as a time proxy.
type client struct {
	address  string
	tier     Tier
	lastSeen time.Time
}

// Config tunes the state machine's timers and thresholds.
type Config struct {
	ValidityWindow              time.Duration // default 10 minutes
	ResyncInterval              time.Duration // default 5 minutes
	SweepInterval               time.Duration // default 1 minute
	TimeSyncRequestTimeout      time.Duration // default 30 seconds
	CameraDriftThresholdSeconds float64       // default 2s (spec's Open Question default)
}

func (c Config) withDefaults() Config {
	if c.ValidityWindow == 0 {
		c.ValidityWindow = 10 * time.Minute
	}
	if c.ResyncInterval == 0 {
		c.ResyncInterval = 5 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.TimeSyncRequestTimeout == 0 {
		c.TimeSyncRequestTimeout = 30 * time.Second
	}
	if c.CameraDriftThresholdSeconds == 0 {
		c.CameraDriftThresholdSeconds = 2
	}
	return c
}

// ClockSetter applies a clock/timezone decision to the host OS. The
// production implementation shells out to date and timedatectl; tests substitute a
// fake that just records the call.
type ClockSetter interface {
	SetSystemClock(ctx context.Context, t time.Time) error
	SetSystemTimezone(ctx context.Context, tz string) error
}

// CameraClock is the subset of the coordinator the cascade needs. A
// disconnected camera simply means the cascade is skipped for that sync.
type CameraClock interface {
	Connected() bool
	GetClock(ctx context.Context) (time.Time, error)
	SetClock(ctx context.Context, t time.Time) error
}

// TimeSyncRequester sends a time-sync-request to an address and awaits the
// client's reply out-of-band; the transport is outside this package's
// scope (spec.md §6's "transport-agnostic" control surface), so the state
// machine only needs to signal that a request was sent — the reply arrives
// later through Machine.ClientTimeResponseReceived.
type TimeSyncRequester interface {
	RequestTimeSync(address string)
}

// Publisher is an alias for bus.Publisher, named locally so this package's
// public API doesn't force every caller to import internal/bus just to spell
// the type.
type Publisher = bus.Publisher
