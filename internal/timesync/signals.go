package timesync

import "time"

// signal is the tagged union of inputs the machine consumes, processed
// strictly in enqueue order by the single goroutine in run(). See spec.md
// §5's "time-proxy signals are processed in enqueue order."
type signal interface {
	isSignal()
}

// ClientConnect reports a UI client opening a session on the given
// interface tier.
type ClientConnect struct {
	Address string
	Tier    Tier
}

func (ClientConnect) isSignal() {}

// ClientTimeResponse carries a client's reply to a time-sync request.
type ClientTimeResponse struct {
	Address    string
	ClientTime time.Time
	Timezone   string // optional; empty means "not given"
}

func (ClientTimeResponse) isSignal() {}

// ClientDisconnect reports a UI client's session closing.
type ClientDisconnect struct {
	Address string
}

func (ClientDisconnect) isSignal() {}

// resyncTick is the periodic re-sync cadence signal (5 minutes).
type resyncTick struct{}

func (resyncTick) isSignal() {}

// sweepTick is the periodic validity-window expiry sweep (1 minute).
type sweepTick struct{}

func (sweepTick) isSignal() {}

// ManualSync forces an immediate resync against the current proxy,
// regardless of the resync timer.
type ManualSync struct{}

func (ManualSync) isSignal() {}
