// Package bandwidth implements the server's single-slot-plus-FIFO-waiters
// admission control for bandwidth tests (spec.md §4.5): at most one agent
// downloads at a time, everyone else is queued and told how long to back
// off. Grounded on the teacher's pkg/manager discipline of serializing all
// mutating cluster operations through one owner, here narrowed to one
// bandwidth slot instead of the whole cluster state.
package bandwidth

import (
	"sync"
	"time"

	"github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/wire"
)

// waiter is one queued agent's position.
type waiter struct {
	agentID   string
	enqueued  time.Time
}

// current is the agent presently holding the download slot.
type current struct {
	agentID string
	start   time.Time
}

// Config carries the server.toml knobs the coordinator needs.
type Config struct {
	TestSizeBytes          int64
	TestTimeout            time.Duration
	MaxDelay               time.Duration
	BaseDelay              time.Duration
	PositionMultiplierDelay float64
}

// Coordinator owns the single current-slot + waiters state under one lock.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	cur     *current
	waiters []waiter
}

func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// RequestTest runs the admission algorithm for one agent's /bandwidth/test
// call. now is injected so tests can control timing deterministically.
func (c *Coordinator) RequestTest(agentID string, now time.Time) wire.BandwidthTestResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { metrics.BandwidthWaitersTotal.Set(float64(len(c.waiters))) }()

	c.expireStuckLocked(now)
	c.pruneStaleWaitersLocked(now)

	if c.cur != nil && c.cur.agentID == agentID {
		size := c.cfg.TestSizeBytes
		return wire.BandwidthTestResponse{Action: wire.BandwidthProceed, DataSizeBytes: &size}
	}

	c.removeWaiterLocked(agentID)

	if c.cur == nil {
		c.cur = &current{agentID: agentID, start: now}
		size := c.cfg.TestSizeBytes
		return wire.BandwidthTestResponse{Action: wire.BandwidthProceed, DataSizeBytes: &size}
	}

	c.waiters = append(c.waiters, waiter{agentID: agentID, enqueued: now})
	delay := c.delayForPositionLocked(len(c.waiters))
	return wire.BandwidthTestResponse{Action: wire.BandwidthDelay, DelaySeconds: &delay}
}

func (c *Coordinator) delayForPositionLocked(position int) float64 {
	base := c.cfg.BaseDelay.Seconds()
	delay := base + float64(position)*c.cfg.PositionMultiplierDelay
	max := c.cfg.MaxDelay.Seconds()
	if delay > max {
		delay = max
	}
	return delay
}

// expireStuckLocked drops a current holder that has outlived the test
// timeout without completing (crashed client, dropped connection).
func (c *Coordinator) expireStuckLocked(now time.Time) {
	if c.cur != nil && now.Sub(c.cur.start) > c.cfg.TestTimeout {
		c.promoteNextLocked()
	}
}

// pruneStaleWaitersLocked drops waiters that have been queued longer than
// max_delay: they would be told to wait past the point of usefulness.
func (c *Coordinator) pruneStaleWaitersLocked(now time.Time) {
	fresh := c.waiters[:0]
	for _, w := range c.waiters {
		if now.Sub(w.enqueued) <= c.cfg.MaxDelay {
			fresh = append(fresh, w)
		}
	}
	c.waiters = fresh
}

func (c *Coordinator) removeWaiterLocked(agentID string) {
	fresh := c.waiters[:0]
	for _, w := range c.waiters {
		if w.agentID != agentID {
			fresh = append(fresh, w)
		}
	}
	c.waiters = fresh
}

// promoteNextLocked hands the slot to the head of the waiter FIFO, or
// clears it entirely if there is no one waiting.
func (c *Coordinator) promoteNextLocked() {
	if len(c.waiters) == 0 {
		c.cur = nil
		return
	}
	head := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.cur = &current{agentID: head.agentID, start: time.Now()}
}

// BeginDownload checks agentID holds the slot and, if so, marks the test
// complete and promotes the next waiter — called before streaming begins
// so queued agents can proceed while this download is still draining.
// Returns false if agentID is not the current holder (caller should 400).
func (c *Coordinator) BeginDownload(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil || c.cur.agentID != agentID {
		return false
	}
	c.promoteNextLocked()
	return true
}

// TestSizeBytes exposes the configured transfer size for the download
// handler's Content-Length header.
func (c *Coordinator) TestSizeBytes() int64 { return c.cfg.TestSizeBytes }
