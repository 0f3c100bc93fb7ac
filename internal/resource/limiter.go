// Package resource provides adaptive throttling for background work so it
// doesn't starve the interactive web console on resource-constrained devices
// like a Pi Zero 2 W.
package resource

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter tracks system pressure (heap size, goroutine count) and hands back
// a throttle delay that background work should sleep before starting.
type Limiter struct {
	mu              sync.RWMutex
	lastCheck       time.Time
	currentPressure float64

	config Config

	throttleDelayCount  atomic.Int64
	throttleDelayTimeNs atomic.Int64
}

// Config configures the resource limiter.
type Config struct {
	// MemoryPressureThresholdMB is the heap size above which throttling kicks in.
	// Default: 200MB (suitable for Pi Zero 2 W with 512MB total)
	MemoryPressureThresholdMB int

	// GoroutinePressureThreshold is the count above which throttling kicks in.
	// Default: 100
	GoroutinePressureThreshold int

	// MaxThrottleDelay is the maximum delay added under extreme pressure.
	// Default: 2 seconds
	MaxThrottleDelay time.Duration

	// PressureCheckInterval is how often to recalculate system pressure.
	// Default: 1 second
	PressureCheckInterval time.Duration
}

// DefaultConfig returns sensible defaults for Pi Zero 2 W class devices.
func DefaultConfig() Config {
	return Config{
		MemoryPressureThresholdMB:  200,
		GoroutinePressureThreshold: 100,
		MaxThrottleDelay:           2 * time.Second,
		PressureCheckInterval:      time.Second,
	}
}

// NewLimiter creates a new resource limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MemoryPressureThresholdMB <= 0 {
		cfg.MemoryPressureThresholdMB = 200
	}
	if cfg.GoroutinePressureThreshold <= 0 {
		cfg.GoroutinePressureThreshold = 100
	}
	if cfg.MaxThrottleDelay <= 0 {
		cfg.MaxThrottleDelay = 2 * time.Second
	}
	if cfg.PressureCheckInterval <= 0 {
		cfg.PressureCheckInterval = time.Second
	}

	return &Limiter{config: cfg}
}

// DefaultLimiter creates a limiter with default configuration.
func DefaultLimiter() *Limiter {
	return NewLimiter(DefaultConfig())
}

// GetThrottleDelay returns a delay duration based on current system pressure.
// Background workers (the archiver, before each mirror dial) should sleep
// for this duration before starting heavy work. Returns 0 if system is healthy.
func (l *Limiter) GetThrottleDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Only recalculate periodically
	if time.Since(l.lastCheck) < l.config.PressureCheckInterval {
		delay := time.Duration(l.currentPressure * float64(l.config.MaxThrottleDelay))
		if delay > 0 {
			l.throttleDelayCount.Add(1)
			l.throttleDelayTimeNs.Add(delay.Nanoseconds())
		}
		return delay
	}

	// Calculate current pressure (0.0 - 1.0)
	pressure := l.calculatePressure()
	l.currentPressure = pressure
	l.lastCheck = time.Now()

	delay := time.Duration(pressure * float64(l.config.MaxThrottleDelay))
	if delay > 0 {
		l.throttleDelayCount.Add(1)
		l.throttleDelayTimeNs.Add(delay.Nanoseconds())
	}
	return delay
}

// calculatePressure returns a value from 0.0 (healthy) to 1.0 (critical)
func (l *Limiter) calculatePressure() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	heapMB := float64(m.HeapAlloc) / (1024 * 1024)
	goroutines := float64(runtime.NumGoroutine())

	pressure := 0.0

	// Memory pressure contribution (up to 0.5)
	memThreshold := float64(l.config.MemoryPressureThresholdMB)
	if heapMB > memThreshold {
		memPressure := (heapMB - memThreshold) / memThreshold
		if memPressure > 0.5 {
			memPressure = 0.5
		}
		pressure += memPressure
	}

	// Goroutine pressure contribution (up to 0.5)
	goThreshold := float64(l.config.GoroutinePressureThreshold)
	if goroutines > goThreshold {
		goPressure := (goroutines - goThreshold) / goThreshold
		if goPressure > 0.5 {
			goPressure = 0.5
		}
		pressure += goPressure
	}

	if pressure > 1.0 {
		pressure = 1.0
	}

	return pressure
}

// GetPressure returns the current system pressure (0.0 - 1.0)
func (l *Limiter) GetPressure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentPressure
}

// IsUnderPressure returns true if the system is under significant pressure
func (l *Limiter) IsUnderPressure() bool {
	return l.GetPressure() > 0.3
}

// Stats holds resource limiter statistics
type Stats struct {
	CurrentPressure float64 `json:"current_pressure"`
	IsUnderPressure bool    `json:"is_under_pressure"`

	ThrottleDelayCount int64         `json:"throttle_delay_count"`
	ThrottleTotalDelay time.Duration `json:"throttle_total_delay"`

	NumCPU        int     `json:"num_cpu"`
	NumGoroutines int     `json:"num_goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
}

// GetStats returns current limiter statistics
func (l *Limiter) GetStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	l.mu.RLock()
	pressure := l.currentPressure
	l.mu.RUnlock()

	return Stats{
		CurrentPressure:    pressure,
		IsUnderPressure:    pressure > 0.3,
		ThrottleDelayCount: l.throttleDelayCount.Load(),
		ThrottleTotalDelay: time.Duration(l.throttleDelayTimeNs.Load()),
		NumCPU:             runtime.NumCPU(),
		NumGoroutines:      runtime.NumGoroutine(),
		HeapAllocMB:        float64(m.HeapAlloc) / (1024 * 1024),
	}
}
