// Package diag provides a non-authoritative NTP offset sampler. It never
// drives the time-proxy state machine's transitions; it is a field
// diagnostic surfaced on status events so an operator can compare "what the
// last trusted proxy pushed" against "what public NTP says," when NTP is
// reachable at all.
package diag

import (
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Config configures the sampler.
type Config struct {
	Enabled              bool
	Servers              []string
	CheckIntervalSeconds int
	TimeoutSeconds       int
}

func (c Config) checkInterval() time.Duration {
	if c.CheckIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Reading is the last-sampled diagnostic state.
type Reading struct {
	Reachable bool
	Server    string
	Offset    time.Duration
	SampledAt time.Time
	Err       string
}

// Sampler periodically queries NTP servers and records the last offset
// reading. It is a pure side-channel: nothing in internal/timesync reads
// from it to decide a transition.
type Sampler struct {
	cfg Config

	mu   sync.RWMutex
	last Reading

	cancel func()
	done   chan struct{}
}

// New creates a Sampler. Call Start to begin periodic sampling.
func New(cfg Config) *Sampler {
	return &Sampler{cfg: cfg}
}

// Start begins periodic sampling in the background. No-op if disabled.
func (s *Sampler) Start() {
	if !s.cfg.Enabled || len(s.cfg.Servers) == 0 {
		return
	}

	done := make(chan struct{})
	stop := make(chan struct{})
	s.done = done
	s.cancel = func() { close(stop) }

	go func() {
		defer close(done)

		s.sampleOnce()

		ticker := time.NewTicker(s.cfg.checkInterval())
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sampleOnce()
			}
		}
	}()
}

// Stop halts periodic sampling. Safe to call on a Sampler that was never
// started.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Last returns the most recent reading. Zero value if no sample has
// completed yet (or the sampler is disabled).
func (s *Sampler) Last() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sampler) sampleOnce() {
	for _, server := range s.cfg.Servers {
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: s.cfg.timeout()})
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.last = Reading{
			Reachable: true,
			Server:    server,
			Offset:    resp.ClockOffset,
			SampledAt: time.Now(),
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.last = Reading{
		Reachable: false,
		SampledAt: time.Now(),
		Err:       fmt.Sprintf("no reachable server among %d configured", len(s.cfg.Servers)),
	}
	s.mu.Unlock()
}
