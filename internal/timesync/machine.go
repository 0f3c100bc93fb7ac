package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/fieldcam/camctl/internal/logger"
)

// Machine runs the time-proxy state machine on a single goroutine consuming
// a signal queue, per spec.md §4.4 and §5's "runs on a single logical
// thread" requirement. All exported methods enqueue a signal; none mutate
// state directly, so the transition table is the only place state changes.
type Machine struct {
	cfg Config

	camera    CameraClock
	clock     ClockSetter
	requester TimeSyncRequester
	publisher Publisher

	mu      sync.RWMutex
	state   State
	clients map[string]*client

	sig  chan signal
	done chan struct{}
}

// New creates a Machine in state "none" with an empty client registry.
// camera and requester may be nil in configurations that never connect a
// camera or drive a live transport (e.g. some tests); clock must not be nil.
func New(cfg Config, camera CameraClock, clock ClockSetter, requester TimeSyncRequester, publisher Publisher) *Machine {
	return &Machine{
		cfg:       cfg.withDefaults(),
		camera:    camera,
		clock:     clock,
		requester: requester,
		publisher: publisher,
		clients:   make(map[string]*client),
		sig:       make(chan signal, 128),
		done:      make(chan struct{}),
	}
}

// Start launches the machine's run goroutine. ctx cancellation stops it.
func (m *Machine) Start(ctx context.Context) {
	go m.run(ctx)
}

// Wait blocks until the run goroutine exits (ctx cancellation).
func (m *Machine) Wait() { <-m.done }

// State returns an immutable snapshot of the current proxy state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsValid reports whether the current state is still within its validity
// window (I6).
func (m *Machine) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsValid(time.Now(), m.cfg.ValidityWindow)
}

// ClientConnected enqueues a client_connect signal.
func (m *Machine) ClientConnected(address string, tier Tier) {
	m.enqueue(ClientConnect{Address: address, Tier: tier})
}

// ClientTimeResponseReceived enqueues a client_time_response signal.
func (m *Machine) ClientTimeResponseReceived(address string, clientTime time.Time, timezone string) {
	m.enqueue(ClientTimeResponse{Address: address, ClientTime: clientTime, Timezone: timezone})
}

// ClientDisconnected enqueues a client_disconnect signal.
func (m *Machine) ClientDisconnected(address string) {
	m.enqueue(ClientDisconnect{Address: address})
}

// ManualSync enqueues an operator-triggered resync against the current
// proxy, independent of the resync timer.
func (m *Machine) ManualSync() {
	m.enqueue(ManualSync{})
}

func (m *Machine) enqueue(s signal) {
	select {
	case m.sig <- s:
	default:
		logger.Default().Warn("timesync signal queue full, dropping signal")
	}
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	resyncTimer := time.NewTimer(m.cfg.ResyncInterval)
	defer resyncTimer.Stop()
	sweepTicker := time.NewTicker(m.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.sig:
			m.process(ctx, s, resyncTimer)
		case <-resyncTimer.C:
			m.process(ctx, resyncTick{}, resyncTimer)
		case <-sweepTicker.C:
			m.process(ctx, sweepTick{}, resyncTimer) // may stop resyncTimer if the window expired
		}
	}
}

func (m *Machine) process(ctx context.Context, s signal, resyncTimer *time.Timer) {
	switch sig := s.(type) {
	case ClientConnect:
		m.handleClientConnect(ctx, sig, resyncTimer)
	case ClientTimeResponse:
		m.handleClientTimeResponse(ctx, sig)
	case ClientDisconnect:
		m.mu.Lock()
		delete(m.clients, sig.Address)
		m.mu.Unlock()
	case resyncTick:
		m.handleResyncTick(resyncTimer)
	case sweepTick:
		m.handleSweepTick(resyncTimer)
	case ManualSync:
		m.handleManualSync()
	}
}

func (m *Machine) handleClientConnect(ctx context.Context, sig ClientConnect, resyncTimer *time.Timer) {
	now := time.Now()

	m.mu.Lock()
	m.clients[sig.Address] = &client{address: sig.Address, tier: sig.Tier, lastSeen: now}

	switch sig.Tier {
	case TierAP0:
		m.state = State{Tier: TierAP0, ClientAddress: sig.Address, AcquiredAt: now}
		m.mu.Unlock()
		resetTimer(resyncTimer, m.cfg.ResyncInterval)
		m.sendTimeSyncRequest(sig.Address)
		m.publishStatus()

	case TierWLAN0:
		state := m.state
		valid := state.IsValid(now, m.cfg.ValidityWindow)
		if valid && state.Tier == TierAP0 {
			m.mu.Unlock()
			return // ap0 outranks wlan0 while valid
		}
		if state.Tier != TierNone && valid {
			m.mu.Unlock()
			return // first wlan0 wins while its window is open
		}
		m.state = State{Tier: TierWLAN0, ClientAddress: sig.Address, AcquiredAt: now}
		m.mu.Unlock()
		resetTimer(resyncTimer, m.cfg.ResyncInterval)
		m.sendTimeSyncRequest(sig.Address)
		m.publishStatus()

	default:
		m.mu.Unlock()
	}
}

func (m *Machine) handleClientTimeResponse(ctx context.Context, sig ClientTimeResponse) {
	m.mu.RLock()
	isProxy := sig.Address == m.state.ClientAddress
	m.mu.RUnlock()
	if !isProxy {
		return
	}

	utc := sig.ClientTime.UTC()
	if err := m.clock.SetSystemClock(ctx, utc); err != nil {
		logger.Default().Error("failed to set system clock", "error", err)
		m.publish("pi_sync", map[string]any{"success": false, "error": err.Error()})
		return
	}
	if sig.Timezone != "" {
		if err := m.clock.SetSystemTimezone(ctx, sig.Timezone); err != nil {
			logger.Default().Error("failed to set system timezone", "timezone", sig.Timezone, "error", err)
		}
	}
	m.publish("pi_sync", map[string]any{"success": true, "client_time": utc, "timezone": sig.Timezone})

	m.mu.Lock()
	m.state.AcquiredAt = time.Now()
	m.mu.Unlock()
	m.publishStatus()

	if m.camera != nil && m.camera.Connected() {
		m.cascadeToCamera(ctx, utc)
	}
}

func (m *Machine) cascadeToCamera(ctx context.Context, systemTime time.Time) {
	cameraTime, err := m.camera.GetClock(ctx)
	if err != nil {
		logger.Default().Warn("camera clock read failed during cascade", "error", err)
		return
	}

	drift := systemTime.Sub(cameraTime).Seconds()
	if drift < 0 {
		drift = -drift
	}
	if drift <= m.cfg.CameraDriftThresholdSeconds {
		return
	}

	if err := m.camera.SetClock(ctx, systemTime); err != nil {
		logger.Default().Warn("camera clock push failed", "error", err)
		m.publish("camera_sync", map[string]any{"success": false, "drift_seconds": drift, "error": err.Error()})
		return
	}
	m.publish("camera_sync", map[string]any{"success": true, "drift_seconds": drift})
}

func (m *Machine) handleResyncTick(resyncTimer *time.Timer) {
	m.mu.Lock()
	state := m.state
	var target string

	switch state.Tier {
	case TierAP0:
		if addr, ok := m.pickClient(TierAP0, state.ClientAddress); ok {
			m.state = State{Tier: TierAP0, ClientAddress: addr, AcquiredAt: time.Now()}
			target = addr
		} else if _, connected := m.clients[state.ClientAddress]; connected {
			target = state.ClientAddress
		}

	case TierWLAN0:
		if addr, ok := m.pickClient(TierAP0, ""); ok {
			m.state = State{Tier: TierAP0, ClientAddress: addr, AcquiredAt: time.Now()}
			target = addr
		} else if _, connected := m.clients[state.ClientAddress]; connected {
			target = state.ClientAddress
		} else if addr, ok := m.pickClient(TierWLAN0, ""); ok {
			m.state = State{Tier: TierWLAN0, ClientAddress: addr, AcquiredAt: time.Now()}
			target = addr
		}
	}
	promoted := m.state.Tier != state.Tier || m.state.ClientAddress != state.ClientAddress
	m.mu.Unlock()

	resetTimer(resyncTimer, m.cfg.ResyncInterval)
	if target != "" {
		m.sendTimeSyncRequest(target)
	}
	if promoted {
		m.publishStatus()
	}
}

func (m *Machine) handleSweepTick(resyncTimer *time.Timer) {
	m.mu.Lock()
	expired := m.state.Tier != TierNone && !m.state.IsValid(time.Now(), m.cfg.ValidityWindow)
	if expired {
		m.state = State{}
	}
	m.mu.Unlock()

	if expired {
		resyncTimer.Stop()
		m.publishStatus()
	}
}

func (m *Machine) handleManualSync() {
	m.mu.RLock()
	addr := m.state.ClientAddress
	hasTarget := m.state.Tier != TierNone
	m.mu.RUnlock()

	if hasTarget && addr != "" {
		m.sendTimeSyncRequest(addr)
	}
}

// pickClient returns a connected client's address for the given tier,
// skipping exclude if non-empty. Deterministic only in that it returns the
// first match found; the registry has no ordering guarantee beyond that.
func (m *Machine) pickClient(tier Tier, exclude string) (string, bool) {
	for addr, c := range m.clients {
		if c.tier == tier && addr != exclude {
			return addr, true
		}
	}
	return "", false
}

func (m *Machine) sendTimeSyncRequest(address string) {
	if m.requester == nil {
		return
	}
	m.requester.RequestTimeSync(address)
}

func (m *Machine) publishStatus() {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	m.publish("time_sync_status", map[string]any{
		"tier":           state.Tier.String(),
		"client_address": state.ClientAddress,
		"acquired_at":    state.AcquiredAt,
		"is_valid":       state.IsValid(time.Now(), m.cfg.ValidityWindow),
	})
}

func (m *Machine) publish(kind string, payload any) {
	if m.publisher != nil {
		m.publisher.Publish(kind, payload)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
