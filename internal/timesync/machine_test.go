package timesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldcam/camctl/internal/bus"
)

type fakeClock struct {
	mu         sync.Mutex
	setTimes   []time.Time
	setZones   []string
	setTimeErr error
}

func (f *fakeClock) SetSystemClock(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setTimeErr != nil {
		return f.setTimeErr
	}
	f.setTimes = append(f.setTimes, t)
	return nil
}

func (f *fakeClock) SetSystemTimezone(ctx context.Context, tz string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setZones = append(f.setZones, tz)
	return nil
}

func (f *fakeClock) lastTime() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.setTimes) == 0 {
		return time.Time{}, false
	}
	return f.setTimes[len(f.setTimes)-1], true
}

type fakeCamera struct {
	mu        sync.Mutex
	connected bool
	clock     time.Time
	pushed    []time.Time
}

func (f *fakeCamera) Connected() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.connected }

func (f *fakeCamera) GetClock(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock, nil
}

func (f *fakeCamera) SetClock(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, t)
	f.clock = t
	return nil
}

type fakeRequester struct {
	mu        sync.Mutex
	addresses []string
}

func (f *fakeRequester) RequestTimeSync(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses = append(f.addresses, address)
}

func (f *fakeRequester) last() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.addresses) == 0 {
		return "", false
	}
	return f.addresses[len(f.addresses)-1], true
}

// newTestMachine builds a Machine with long timers so tests fully control
// transitions via direct signal processing rather than racing real timers.
func newTestMachine(camera CameraClock, clock ClockSetter, requester TimeSyncRequester, rec *bus.Recorder) *Machine {
	return New(Config{
		ValidityWindow: 10 * time.Minute,
		ResyncInterval: time.Hour,
		SweepInterval:  time.Hour,
	}, camera, clock, requester, rec)
}

// drive processes a signal synchronously without the run() goroutine, to
// keep these tests deterministic and timer-free.
func drive(m *Machine, ctx context.Context, s signal) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	m.process(ctx, s, timer)
}

func TestAP0ConnectAlwaysWins(t *testing.T) {
	clock := &fakeClock{}
	req := &fakeRequester{}
	m := newTestMachine(nil, clock, req, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.5", Tier: TierWLAN0})
	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})

	state := m.State()
	if state.Tier != TierAP0 || state.ClientAddress != "192.168.4.2" {
		t.Fatalf("state = %+v, want ap0-device(192.168.4.2)", state)
	}
	addr, ok := req.last()
	if !ok || addr != "192.168.4.2" {
		t.Fatalf("last time-sync-request = %q, want 192.168.4.2", addr)
	}
}

// TestValidAP0BlocksWLAN0 (I7): while state is a valid ap0-device, a wlan0
// connect signal never changes the state.
func TestValidAP0BlocksWLAN0(t *testing.T) {
	m := newTestMachine(nil, &fakeClock{}, &fakeRequester{}, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})
	drive(m, ctx, ClientConnect{Address: "10.0.0.9", Tier: TierWLAN0})

	state := m.State()
	if state.Tier != TierAP0 || state.ClientAddress != "192.168.4.2" {
		t.Fatalf("state = %+v, want unchanged ap0-device(192.168.4.2)", state)
	}
}

func TestFirstWLAN0Wins(t *testing.T) {
	m := newTestMachine(nil, &fakeClock{}, &fakeRequester{}, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})
	drive(m, ctx, ClientConnect{Address: "10.0.0.2", Tier: TierWLAN0})

	state := m.State()
	if state.ClientAddress != "10.0.0.1" {
		t.Fatalf("client_address = %q, want first-wlan0-wins (10.0.0.1)", state.ClientAddress)
	}
}

func TestClientTimeResponseFromNonProxyIgnored(t *testing.T) {
	clock := &fakeClock{}
	m := newTestMachine(nil, clock, &fakeRequester{}, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})
	drive(m, ctx, ClientTimeResponse{Address: "10.0.0.99", ClientTime: time.Now()})

	if _, ok := clock.lastTime(); ok {
		t.Fatal("expected no clock set from a non-proxy response")
	}
}

// TestClientTimeResponseSetsClockAndCascades (S4-style): a proxy's time
// response sets the system clock and, when the camera is connected with
// drift beyond threshold, cascades to the camera.
func TestClientTimeResponseSetsClockAndCascades(t *testing.T) {
	clock := &fakeClock{}
	cam := &fakeCamera{connected: true, clock: time.Now().Add(-time.Hour)}
	rec := bus.NewRecorder()
	m := New(Config{CameraDriftThresholdSeconds: 2}, cam, clock, &fakeRequester{}, rec)
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})

	clientTime := time.Now()
	drive(m, ctx, ClientTimeResponse{Address: "10.0.0.1", ClientTime: clientTime, Timezone: "America/Los_Angeles"})

	got, ok := clock.lastTime()
	if !ok {
		t.Fatal("expected system clock to be set")
	}
	if got.Sub(clientTime.UTC()).Abs() > time.Second {
		t.Fatalf("set clock = %v, want ~%v", got, clientTime.UTC())
	}
	if len(clock.setZones) != 1 || clock.setZones[0] != "America/Los_Angeles" {
		t.Fatalf("set zones = %v, want [America/Los_Angeles]", clock.setZones)
	}

	cam.mu.Lock()
	pushed := len(cam.pushed)
	cam.mu.Unlock()
	if pushed != 1 {
		t.Fatalf("camera pushes = %d, want 1 (drift exceeded threshold)", pushed)
	}

	if _, ok := rec.Last("camera_sync"); !ok {
		t.Fatal("expected camera_sync event")
	}
	if _, ok := rec.Last("pi_sync"); !ok {
		t.Fatal("expected pi_sync event")
	}
}

func TestClientTimeResponseSkipsCascadeWithinDriftThreshold(t *testing.T) {
	clock := &fakeClock{}
	now := time.Now()
	cam := &fakeCamera{connected: true, clock: now}
	rec := bus.NewRecorder()
	m := New(Config{CameraDriftThresholdSeconds: 2}, cam, clock, &fakeRequester{}, rec)
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})
	drive(m, ctx, ClientTimeResponse{Address: "10.0.0.1", ClientTime: now})

	cam.mu.Lock()
	pushed := len(cam.pushed)
	cam.mu.Unlock()
	if pushed != 0 {
		t.Fatalf("camera pushes = %d, want 0 (drift within threshold)", pushed)
	}
}

func TestClientDisconnectLeavesValidityWindowUnchanged(t *testing.T) {
	m := newTestMachine(nil, &fakeClock{}, &fakeRequester{}, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})
	before := m.State()

	drive(m, ctx, ClientDisconnect{Address: "192.168.4.2"})
	after := m.State()

	if before.Tier != after.Tier || before.ClientAddress != after.ClientAddress || !before.AcquiredAt.Equal(after.AcquiredAt) {
		t.Fatalf("state changed on disconnect: before=%+v after=%+v", before, after)
	}
}

// TestResyncPromotesWLAN0ToAP0 covers S4's "resync tick promotes to a
// newly-present ap0 client" branch.
func TestResyncPromotesWLAN0ToAP0(t *testing.T) {
	req := &fakeRequester{}
	m := newTestMachine(nil, &fakeClock{}, req, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})
	// A second ap0 client exists in the registry (e.g. connected then its
	// session didn't become the active proxy because it was not the first
	// signal processed) — simulate via a disconnect-free registry entry.
	m.mu.Lock()
	m.clients["192.168.4.7"] = &client{address: "192.168.4.7", tier: TierAP0, lastSeen: time.Now()}
	m.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	m.process(ctx, resyncTick{}, timer)

	state := m.State()
	if state.Tier != TierAP0 || state.ClientAddress != "192.168.4.7" {
		t.Fatalf("state = %+v, want promoted to ap0-device(192.168.4.7)", state)
	}
}

// TestResyncAP0PrefersOtherAP0Client covers the "resync tick, state=ap0-device,
// prefer other ap0 client" transition table row: the new target must become
// the trusted proxy, or its time-sync reply would be dropped by
// handleClientTimeResponse's isProxy check.
func TestResyncAP0PrefersOtherAP0Client(t *testing.T) {
	clock := &fakeClock{}
	req := &fakeRequester{}
	m := newTestMachine(nil, clock, req, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})

	m.mu.Lock()
	m.clients["192.168.4.9"] = &client{address: "192.168.4.9", tier: TierAP0, lastSeen: time.Now()}
	m.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	m.process(ctx, resyncTick{}, timer)

	state := m.State()
	if state.ClientAddress != "192.168.4.9" {
		t.Fatalf("client_address = %q after resync, want retargeted to 192.168.4.9", state.ClientAddress)
	}
	addr, ok := req.last()
	if !ok || addr != "192.168.4.9" {
		t.Fatalf("last time-sync-request = %q, want 192.168.4.9", addr)
	}

	// A reply from the new target must be honored, not dropped as a
	// non-proxy response.
	drive(m, ctx, ClientTimeResponse{Address: "192.168.4.9", ClientTime: time.Now()})
	if _, ok := clock.lastTime(); !ok {
		t.Fatal("expected clock response from the retargeted ap0 client to be honored")
	}
}

// TestResyncWLAN0FailsOverToOtherClient covers the "resync tick,
// state=wlan0-device, fail over to other wlan0 client" transition table row:
// when the current proxy has disconnected and no ap0 client exists, the
// machine must retarget state.ClientAddress to the replacement client.
func TestResyncWLAN0FailsOverToOtherClient(t *testing.T) {
	clock := &fakeClock{}
	req := &fakeRequester{}
	m := newTestMachine(nil, clock, req, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "10.0.0.1", Tier: TierWLAN0})
	drive(m, ctx, ClientDisconnect{Address: "10.0.0.1"})

	m.mu.Lock()
	m.clients["10.0.0.2"] = &client{address: "10.0.0.2", tier: TierWLAN0, lastSeen: time.Now()}
	m.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	m.process(ctx, resyncTick{}, timer)

	state := m.State()
	if state.ClientAddress != "10.0.0.2" {
		t.Fatalf("client_address = %q after failover, want retargeted to 10.0.0.2", state.ClientAddress)
	}
	addr, ok := req.last()
	if !ok || addr != "10.0.0.2" {
		t.Fatalf("last time-sync-request = %q, want 10.0.0.2", addr)
	}

	drive(m, ctx, ClientTimeResponse{Address: "10.0.0.2", ClientTime: time.Now()})
	if _, ok := clock.lastTime(); !ok {
		t.Fatal("expected clock response from the failed-over wlan0 client to be honored")
	}
}

// TestSweepExpiresStaleState (I6): once the validity window elapses, the
// state resets to none.
func TestSweepExpiresStaleState(t *testing.T) {
	m := New(Config{ValidityWindow: time.Millisecond}, nil, &fakeClock{}, &fakeRequester{}, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})
	time.Sleep(5 * time.Millisecond)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	m.process(ctx, sweepTick{}, timer)

	state := m.State()
	if state.Tier != TierNone {
		t.Fatalf("state = %+v, want none after expiry sweep", state)
	}
	if m.IsValid() {
		t.Fatal("IsValid() = true after expiry sweep")
	}
}

func TestIsValidMatchesWindowBoundary(t *testing.T) {
	s := State{Tier: TierAP0, AcquiredAt: time.Now().Add(-11 * time.Minute)}
	if s.IsValid(time.Now(), 10*time.Minute) {
		t.Fatal("expected state older than the 10-minute window to be invalid")
	}

	fresh := State{Tier: TierAP0, AcquiredAt: time.Now()}
	if !fresh.IsValid(time.Now(), 10*time.Minute) {
		t.Fatal("expected freshly-acquired state to be valid")
	}

	if (State{}).IsValid(time.Now(), 10*time.Minute) {
		t.Fatal("expected zero-value (none) state to never be valid")
	}
}

func TestManualSyncTargetsCurrentProxy(t *testing.T) {
	req := &fakeRequester{}
	m := newTestMachine(nil, &fakeClock{}, req, bus.NewRecorder())
	ctx := context.Background()

	drive(m, ctx, ClientConnect{Address: "192.168.4.2", Tier: TierAP0})
	drive(m, ctx, ManualSync{})

	addr, ok := req.last()
	if !ok || addr != "192.168.4.2" {
		t.Fatalf("manual sync target = %q, want 192.168.4.2", addr)
	}
}
