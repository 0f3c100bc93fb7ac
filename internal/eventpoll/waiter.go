// Package eventpoll implements the vendor event-polling long-poll loop: given
// a coordinator and a deadline, block until a new content item appears on the
// camera and return its vendor path. See spec.md §4.2.
package eventpoll

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/fieldcam/camctl/internal/cameraio"
)

// TimeoutError means the deadline elapsed with no content event.
type TimeoutError struct{ Deadline time.Time }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("event-polling timed out at %s with no addedcontents", e.Deadline.Format(time.RFC3339))
}

// CameraDisconnectedError means the underlying socket dropped mid-poll; the
// waiter does not retry.
type CameraDisconnectedError struct{ Err error }

func (e *CameraDisconnectedError) Error() string {
	return fmt.Sprintf("camera disconnected during event polling: %v", e.Err)
}
func (e *CameraDisconnectedError) Unwrap() error { return e.Err }

const (
	maxPollTimeout     = 35 * time.Second
	heartbeatSleep     = 50 * time.Millisecond
	alreadyStartedWait = 100 * time.Millisecond
)

// Requester is the subset of *cameraio.Coordinator the waiter needs. Tests
// (here and in internal/session) can substitute a fake that satisfies it
// without touching the network.
type Requester interface {
	PollRequest(ctx context.Context, verb, path string, body any, opts cameraio.RequestOptions) (cameraio.Response, error)
}

// Wait blocks until the camera reports a new content item or deadline
// passes, and returns the vendor path of that item. Callers MUST start Wait
// before pressing the shutter (see spec.md §4.2's race invariant):
// addedcontents can arrive within ~640ms of the press.
func Wait(ctx context.Context, coord Requester, deadline time.Time) (string, error) {
	for {
		now := time.Now()
		if !now.Before(deadline) {
			return "", &TimeoutError{Deadline: deadline}
		}

		remaining := deadline.Sub(now)
		timeout := remaining
		if timeout > maxPollTimeout {
			timeout = maxPollTimeout
		}

		resp, err := coord.PollRequest(ctx, http.MethodGet, "/ccapi/ver110/event/polling?timeout=long", nil, cameraio.RequestOptions{
			Timeout: timeout,
		})

		switch {
		case err == nil:
			if p, ok := extractAddedContent(resp.JSON); ok {
				return p, nil
			}
			// heartbeat with no addedcontents: avoid tight-looping
			select {
			case <-time.After(heartbeatSleep):
			case <-ctx.Done():
				return "", ctx.Err()
			}

		case isAlreadyStarted(err):
			select {
			case <-time.After(alreadyStartedWait):
			case <-ctx.Done():
				return "", ctx.Err()
			}

		case isClientTimeout(err):
			// the vendor uses the client-side timeout as the long-poll expiry;
			// loop and re-issue against the (possibly now-shorter) deadline

		case isDisconnect(err):
			return "", &CameraDisconnectedError{Err: err}

		default:
			return "", err
		}
	}
}

func extractAddedContent(body map[string]any) (string, bool) {
	raw, ok := body["addedcontents"]
	if !ok {
		return "", false
	}
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return "", false
	}

	paths := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			paths = append(paths, s)
		}
	}
	if len(paths) == 0 {
		return "", false
	}

	if p, ok := firstWithExt(paths, ".jpg", ".jpeg"); ok {
		return p, true
	}
	if p, ok := firstWithExt(paths, ".cr3", ".cr2", ".raw"); ok {
		return p, true
	}
	return paths[0], true
}

func firstWithExt(paths []string, exts ...string) (string, bool) {
	for _, p := range paths {
		lower := strings.ToLower(path.Ext(p))
		for _, ext := range exts {
			if lower == ext {
				return p, true
			}
		}
	}
	return "", false
}

func isAlreadyStarted(err error) bool {
	ccapiErr, ok := err.(*cameraio.CcapiError)
	return ok && strings.Contains(strings.ToLower(ccapiErr.Message), "already started")
}

func isClientTimeout(err error) bool {
	_, ok := err.(*cameraio.TimeoutError)
	return ok
}

func isDisconnect(err error) bool {
	_, ok := err.(*cameraio.ConnectionLostError)
	return ok
}
