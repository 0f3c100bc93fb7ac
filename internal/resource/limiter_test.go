package resource

import (
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(Config{
		MemoryPressureThresholdMB:  100,
		GoroutinePressureThreshold: 50,
	})

	if l == nil {
		t.Fatal("expected non-nil limiter")
	}

	stats := l.GetStats()
	if stats.NumCPU < 1 {
		t.Errorf("expected NumCPU >= 1, got %d", stats.NumCPU)
	}
}

func TestDefaultLimiter(t *testing.T) {
	l := DefaultLimiter()
	if l == nil {
		t.Fatal("expected non-nil limiter")
	}
}

func TestThrottleDelay(t *testing.T) {
	l := NewLimiter(Config{
		MemoryPressureThresholdMB:  1, // Very low threshold to trigger throttling
		GoroutinePressureThreshold: 1, // Very low threshold
		MaxThrottleDelay:           100 * time.Millisecond,
		PressureCheckInterval:      10 * time.Millisecond,
	})

	// With such low thresholds, we should get some throttle delay
	delay := l.GetThrottleDelay()
	// Can't predict exact value, but it should be non-negative
	if delay < 0 {
		t.Errorf("expected non-negative delay, got %v", delay)
	}
}

func TestThrottleDelayCached(t *testing.T) {
	l := NewLimiter(Config{
		MemoryPressureThresholdMB:  100000,
		GoroutinePressureThreshold: 100000,
		PressureCheckInterval:      time.Minute,
	})

	first := l.GetThrottleDelay()
	second := l.GetThrottleDelay()
	if first != second {
		t.Errorf("expected cached delay within the check interval, got %v then %v", first, second)
	}
}

func TestPressureCalculation(t *testing.T) {
	l := NewLimiter(Config{
		MemoryPressureThresholdMB:  100000, // Very high threshold
		GoroutinePressureThreshold: 100000, // Very high threshold
	})

	// With very high thresholds, pressure should be near 0
	pressure := l.calculatePressure()
	if pressure > 0.1 {
		t.Errorf("expected low pressure with high thresholds, got %v", pressure)
	}

	// Check that IsUnderPressure returns false
	if l.IsUnderPressure() {
		t.Error("expected IsUnderPressure to be false with high thresholds")
	}
}

func TestGetStats(t *testing.T) {
	l := NewLimiter(Config{
		MemoryPressureThresholdMB:  100000,
		GoroutinePressureThreshold: 100000,
	})

	l.GetThrottleDelay()

	stats := l.GetStats()

	if stats.NumCPU < 1 {
		t.Errorf("expected NumCPU >= 1, got %d", stats.NumCPU)
	}
	if stats.NumGoroutines < 1 {
		t.Errorf("expected NumGoroutines >= 1, got %d", stats.NumGoroutines)
	}
	if stats.IsUnderPressure {
		t.Error("expected IsUnderPressure to be false with high thresholds")
	}
}

func TestConfigDefaults(t *testing.T) {
	// Test that zero values get defaults applied
	l := NewLimiter(Config{})

	if l.config.MemoryPressureThresholdMB != 200 {
		t.Errorf("expected MemoryPressureThresholdMB=200, got %d", l.config.MemoryPressureThresholdMB)
	}
	if l.config.GoroutinePressureThreshold != 100 {
		t.Errorf("expected GoroutinePressureThreshold=100, got %d", l.config.GoroutinePressureThreshold)
	}
	if l.config.MaxThrottleDelay != 2*time.Second {
		t.Errorf("expected MaxThrottleDelay=2s, got %v", l.config.MaxThrottleDelay)
	}
	if l.config.PressureCheckInterval != time.Second {
		t.Errorf("expected PressureCheckInterval=1s, got %v", l.config.PressureCheckInterval)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MemoryPressureThresholdMB != 200 {
		t.Errorf("expected MemoryPressureThresholdMB=200, got %d", cfg.MemoryPressureThresholdMB)
	}
	if cfg.GoroutinePressureThreshold != 100 {
		t.Errorf("expected GoroutinePressureThreshold=100, got %d", cfg.GoroutinePressureThreshold)
	}
	if cfg.MaxThrottleDelay != 2*time.Second {
		t.Errorf("expected MaxThrottleDelay=2s, got %v", cfg.MaxThrottleDelay)
	}
	if cfg.PressureCheckInterval != time.Second {
		t.Errorf("expected PressureCheckInterval=1s, got %v", cfg.PressureCheckInterval)
	}
}

func BenchmarkGetThrottleDelay(b *testing.B) {
	l := NewLimiter(Config{
		PressureCheckInterval: time.Millisecond,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.GetThrottleDelay()
	}
}
