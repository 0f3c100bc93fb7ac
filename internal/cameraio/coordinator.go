package cameraio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// New creates a Coordinator. It does not connect; call Connect explicitly.
func New(cfg Config) *Coordinator {
	if cfg.ProbeTimeoutSeconds == 0 {
		cfg.ProbeTimeoutSeconds = 10
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = 15
	}
	if cfg.ProbeIntervalSeconds == 0 {
		cfg.ProbeIntervalSeconds = 30
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:          cfg,
		httpClient:   newHTTPClient(cfg.Username, cfg.Password, time.Duration(cfg.RequestTimeoutSeconds)*time.Second),
		inflight:     make(chan struct{}, 1),
		pollSlot:     make(chan struct{}, 1),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		onDisconnect: cfg.OnDisconnect,
		onReconnect:  cfg.OnReconnect,
	}
}

// Connect probes the camera's capability root and, on success, populates the
// descriptor and starts the connection monitor. See spec.md §4.1.
func (c *Coordinator) Connect(ctx context.Context) (Descriptor, error) {
	desc, err := c.probe(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	c.mu.Lock()
	c.descriptor = desc
	c.state = StateConnected
	c.mu.Unlock()

	c.startMonitor()

	return desc, nil
}

// Descriptor returns a copy of the current camera endpoint descriptor.
func (c *Coordinator) Descriptor() Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptor
}

// Connected reports whether the coordinator currently believes it has a
// live connection to the camera.
func (c *Coordinator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected
}

// probe issues the capability-root GET and parses it into a Descriptor. It
// does not touch c's mutable state — callers decide what to do with the
// result (initial connect vs. reconnection retry).
func (c *Coordinator) probe(ctx context.Context) (Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.ProbeTimeoutSeconds)*time.Second)
	defer cancel()

	url := c.cfg.BaseURL + "/ccapi/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := c.httpClient.do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Descriptor{}, &NetworkUnreachableError{Host: c.cfg.BaseURL, Err: err}
		}
		if isTLSError(err) {
			return Descriptor{}, &TLSFailureError{Host: c.cfg.BaseURL, Err: err}
		}
		return Descriptor{}, &NetworkUnreachableError{Host: c.cfg.BaseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, &NotCameraError{Host: c.cfg.BaseURL}
	}

	var body struct {
		Versions []struct {
			Version string `json:"version"`
			Path    string `json:"path"`
		} `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Descriptor{}, &NotCameraError{Host: c.cfg.BaseURL}
	}

	caps := Capabilities{}
	for _, v := range body.Versions {
		caps[v.Version] = append(caps[v.Version], EndpointRecord{Path: v.Path, Verbs: []string{http.MethodGet}})
	}
	if len(caps) == 0 {
		return Descriptor{}, &NotCameraError{Host: c.cfg.BaseURL}
	}

	return Descriptor{
		BaseURL:      c.cfg.BaseURL,
		Capabilities: caps,
		Connected:    true,
	}, nil
}

func isTLSError(err error) bool {
	return strings.Contains(err.Error(), "tls") || strings.Contains(err.Error(), "certificate") || strings.Contains(err.Error(), "x509")
}

// Request issues a single vendor call, serialized behind the coordinator's
// single in-flight slot. See spec.md §4.1.
func (c *Coordinator) Request(ctx context.Context, verb, path string, body any, opts RequestOptions) (Response, error) {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state == StateDisconnected {
		return Response{}, &CameraNotConnectedError{}
	}

	if opts.NonBlocking {
		select {
		case c.inflight <- struct{}{}:
		default:
			return Response{}, &QueuedBehindOtherCallError{}
		}
	} else {
		select {
		case c.inflight <- struct{}{}:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	defer func() { <-c.inflight }()

	return c.doRequest(ctx, verb, path, body, opts)
}

// PollRequest issues a long-poll request through a gate separate from the
// single in-flight request slot: one outstanding poll may run concurrently
// with one outstanding ordinary request, matching the vendor connection's
// tolerance for exactly that pairing (spec.md §4.1). Event-polling is the
// only caller; ordinary callers should use Request.
func (c *Coordinator) PollRequest(ctx context.Context, verb, path string, body any, opts RequestOptions) (Response, error) {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state == StateDisconnected {
		return Response{}, &CameraNotConnectedError{}
	}

	select {
	case c.pollSlot <- struct{}{}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	defer func() { <-c.pollSlot }()

	return c.doRequest(ctx, verb, path, body, opts)
}

func (c *Coordinator) doRequest(ctx context.Context, verb, path string, body any, opts RequestOptions) (Response, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Duration(c.cfg.RequestTimeoutSeconds) * time.Second
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.attemptOnce(ctx, verb, path, body, timeout, opts.ResponseType)
		if err == nil {
			return resp, nil
		}

		if _, busy := err.(*CameraBusyError); busy && attempt < maxBusyAttempts() {
			select {
			case <-time.After(busyBackoffLadder[attempt-1]):
				continue
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		if busyErr, busy := err.(*CameraBusyError); busy {
			busyErr.Attempts = attempt
			return Response{}, busyErr
		}

		return Response{}, err
	}
}

func (c *Coordinator) attemptOnce(ctx context.Context, verb, path string, body any, timeout time.Duration, rt ResponseType) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, verb, c.cfg.BaseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Response{}, &TimeoutError{Op: verb + " " + path}
		}
		c.handleDisconnect()
		return Response{}, &ConnectionLostError{Op: verb + " " + path}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return Response{}, &CameraBusyError{Op: verb + " " + path}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := extractMessage(data)
		return Response{}, &CcapiError{StatusCode: resp.StatusCode, Message: msg}
	case resp.StatusCode >= 500:
		return Response{}, &TransientError{Op: verb + " " + path, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	out := Response{StatusCode: resp.StatusCode}
	switch rt {
	case ResponseBytes:
		out.Bytes = data
	default:
		if len(data) > 0 {
			var m map[string]any
			if err := json.Unmarshal(data, &m); err == nil {
				out.JSON = m
			}
		}
	}
	return out, nil
}

func extractMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(data)
}

// TakePhoto presses the shutter. It is non-idempotent: on ConnectionLost the
// caller (the session) decides what to do, per spec.md §4.1.
func (c *Coordinator) TakePhoto(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodPost, "/ccapi/ver100/shooting/control/shutterbutton", map[string]any{"af": true}, RequestOptions{})
	return err
}

// ValidateInterval checks a proposed shot interval against minimal sanity
// rules and, when available, the camera's current shutter speed. See
// spec.md §4.3.
func (c *Coordinator) ValidateInterval(ctx context.Context, seconds int) (valid bool, reason string) {
	if seconds <= 0 {
		return false, "interval must be greater than zero"
	}

	settings, err := c.GetSettings(ctx)
	if err != nil {
		return true, "shutter speed unknown; interval not checked against exposure time"
	}

	shutterSeconds, ok := parseShutterSpeed(settings)
	if !ok {
		return true, "shutter speed unknown; interval not checked against exposure time"
	}

	const safetyMargin = 1.0
	if float64(seconds) < shutterSeconds+safetyMargin {
		return false, fmt.Sprintf("interval %ds is shorter than shutter speed %.1fs plus safety margin", seconds, shutterSeconds)
	}
	return true, ""
}

// GetDeviceInfo fetches the product identity snapshot.
func (c *Coordinator) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.Request(ctx, http.MethodGet, "/ccapi/ver100/deviceinformation", nil, RequestOptions{})
	if err != nil {
		return DeviceInfo{}, err
	}
	info := DeviceInfo{
		Model:        stringField(resp.JSON, "productname"),
		SerialNumber: stringField(resp.JSON, "serialnumber"),
		Firmware:     stringField(resp.JSON, "firmwareversion"),
	}
	c.mu.Lock()
	c.descriptor.Device = info
	c.mu.Unlock()
	return info, nil
}

// GetSettings fetches the current shooting settings snapshot.
func (c *Coordinator) GetSettings(ctx context.Context) (map[string]any, error) {
	resp, err := c.Request(ctx, http.MethodGet, "/ccapi/ver110/shooting/settings", nil, RequestOptions{})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.descriptor.Settings = resp.JSON
	c.mu.Unlock()
	return resp.JSON, nil
}

// GetClock reads the camera's current date/time from the CCAPI datetime
// function endpoint. Used by the time-proxy cascade to measure drift.
func (c *Coordinator) GetClock(ctx context.Context) (time.Time, error) {
	resp, err := c.Request(ctx, http.MethodGet, "/ccapi/ver100/functions/datetime", nil, RequestOptions{})
	if err != nil {
		return time.Time{}, err
	}
	raw := stringField(resp.JSON, "datetime")
	if raw == "" {
		return time.Time{}, &CcapiError{Message: "camera clock response missing datetime field"}
	}
	return time.Parse("Mon Jan 2 15:04:05 MST 2006", raw)
}

// SetClock pushes t to the camera's clock via the CCAPI datetime function
// endpoint, preserving the vendor's timezone-offset format.
func (c *Coordinator) SetClock(ctx context.Context, t time.Time) error {
	body := map[string]any{
		"datetime":   t.Format("Mon Jan 2 15:04:05 MST 2006"),
		"dateformat": 0,
	}
	_, err := c.Request(ctx, http.MethodPut, "/ccapi/ver100/functions/datetime", body, RequestOptions{})
	return err
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// parseShutterSpeed extracts a shutter speed like "1/125" or "2\"" (2
// seconds, CCAPI's bulb notation) from a settings snapshot and returns it in
// seconds.
func parseShutterSpeed(settings map[string]any) (float64, bool) {
	raw, ok := settings["tv"]
	if !ok {
		return 0, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, false
	}
	value, ok := m["value"].(string)
	if !ok {
		return 0, false
	}
	return parseShutterString(value)
}

func parseShutterString(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "\"") {
		var seconds float64
		if _, err := fmt.Sscanf(strings.TrimSuffix(value, "\""), "%f", &seconds); err != nil {
			return 0, false
		}
		return seconds, true
	}
	if strings.Contains(value, "/") {
		parts := strings.SplitN(value, "/", 2)
		var num, den float64
		if _, err := fmt.Sscanf(parts[0], "%f", &num); err != nil {
			return 0, false
		}
		if _, err := fmt.Sscanf(parts[1], "%f", &den); err != nil || den == 0 {
			return 0, false
		}
		return num / den, true
	}
	return 0, false
}

// --- pause/resume gates ---

// PauseInfoPolling increments the info-polling pause counter.
func (c *Coordinator) PauseInfoPolling() { atomic.AddInt32(&c.infoPollPause, 1) }

// ResumeInfoPolling decrements the info-polling pause counter.
func (c *Coordinator) ResumeInfoPolling() { atomic.AddInt32(&c.infoPollPause, -1) }

// InfoPollingPaused reports whether the info-polling loop should be idle.
func (c *Coordinator) InfoPollingPaused() bool { return atomic.LoadInt32(&c.infoPollPause) > 0 }

// PauseConnectionMonitor increments the connection-monitor pause counter.
func (c *Coordinator) PauseConnectionMonitor() { atomic.AddInt32(&c.connMonitorPause, 1) }

// ResumeConnectionMonitor decrements the connection-monitor pause counter.
func (c *Coordinator) ResumeConnectionMonitor() { atomic.AddInt32(&c.connMonitorPause, -1) }

// ConnectionMonitorPaused reports whether the health probe should be idle.
func (c *Coordinator) ConnectionMonitorPaused() bool { return atomic.LoadInt32(&c.connMonitorPause) > 0 }

// Close stops the connection monitor and any in-progress reconnection.
// Safe to call multiple times.
func (c *Coordinator) Close() {
	c.baseCancel()

	c.mu.Lock()
	done := c.monitorDone
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Coordinator) handleDisconnect() {
	c.mu.Lock()
	wasConnected := c.state == StateConnected
	c.state = StateDisconnecting
	c.descriptor.Connected = false
	c.mu.Unlock()

	if wasConnected && c.onDisconnect != nil {
		c.onDisconnect()
	}

	c.beginReconnect(c.baseCtx)
}
