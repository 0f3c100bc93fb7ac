package timesync

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// SystemClock is the production ClockSetter for the Linux devices this runs
// on: it shells out to date to set the host clock and to timedatectl, the
// systemd tool, to set the host timezone.
type SystemClock struct{}

// SetSystemClock sets the host clock to t (UTC) using date -u -s, which
// takes the instant unambiguously regardless of the configured local
// timezone.
func (SystemClock) SetSystemClock(ctx context.Context, t time.Time) error {
	formatted := t.UTC().Format("2006-01-02 15:04:05")
	cmd := exec.CommandContext(ctx, "date", "-u", "-s", formatted) // #nosec G204 -- formatted is our own RFC-shaped timestamp
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("date -u -s: %w (%s)", err, string(out))
	}
	return nil
}

// SetSystemTimezone sets the host timezone via timedatectl.
func (SystemClock) SetSystemTimezone(ctx context.Context, tz string) error {
	cmd := exec.CommandContext(ctx, "timedatectl", "set-timezone", tz) // #nosec G204 -- tz comes from a connected client's IANA zone name
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("timedatectl set-timezone: %w (%s)", err, string(out))
	}
	return nil
}
