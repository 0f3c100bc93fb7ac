package cameraio

import (
	"context"
	"sync/atomic"
	"time"
)

// startMonitor launches the background connection-health loop. It probes
// the capability root at ProbeIntervalSeconds while connected; on failure it
// transitions connected → disconnecting → reconnecting and retries the
// capability probe with exponential backoff (spec.md §4.1).
func (c *Coordinator) startMonitor() {
	c.mu.Lock()
	c.monitorDone = make(chan struct{})
	c.mu.Unlock()

	go c.runMonitor(c.baseCtx)
}

func (c *Coordinator) runMonitor(ctx context.Context) {
	defer close(c.monitorDone)

	ticker := time.NewTicker(time.Duration(c.cfg.ProbeIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.ConnectionMonitorPaused() {
				continue
			}
			c.runHealthCheck(ctx)
		}
	}
}

func (c *Coordinator) runHealthCheck(ctx context.Context) {
	if _, err := c.probe(ctx); err != nil {
		c.beginReconnect(ctx)
		return
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.state = StateConnected
		c.descriptor.Connected = true
	}
	c.mu.Unlock()
}

// beginReconnect transitions to reconnecting and starts reconnectLoop, unless
// one is already running. The atomic flag is what actually prevents a
// duplicate loop — handleDisconnect and runHealthCheck can both call this
// concurrently (a failed in-flight request and a failed health-check probe
// racing each other), and state alone isn't a safe gate across that race.
func (c *Coordinator) beginReconnect(ctx context.Context) {
	c.mu.Lock()
	c.state = StateReconnecting
	c.descriptor.Connected = false
	c.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}

	go c.reconnectLoop(ctx)
}

func (c *Coordinator) reconnectLoop(ctx context.Context) {
	defer atomic.StoreInt32(&c.reconnecting, 0)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff(attempt)):
		}

		desc, err := c.probe(ctx)
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.descriptor = desc
		c.state = StateConnected
		hook := c.onReconnect
		c.mu.Unlock()

		if hook != nil {
			hook(desc)
		}
		return
	}
}
