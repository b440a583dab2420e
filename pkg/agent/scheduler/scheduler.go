// Package scheduler runs one goroutine per configured task on its own
// ticker, buffers raw results in memory, periodically flushes them to the
// agent database, and rolls every task up into a minute aggregate. Its
// goroutine lifecycle (NewX/Start/Stop with a stopCh and a WaitGroup) is
// grounded on pkg/scheduler.Scheduler's ticker-driven run loop, generalized
// from "reconcile containers onto nodes" to "run a probe and buffer its
// result".
package scheduler

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/agent/probe"
	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/wire"
)

// maxBufferedMetrics is the in-memory raw-metric buffer cap. When a flush
// cycle is delayed (database contention, disk pressure) and the buffer
// fills past this, the oldest half is dropped to keep memory bounded.
const maxBufferedMetrics = 10000

// BandwidthSource supplies the server-authoritative download URL and size
// for bandwidth tasks; implemented by the sender package, which owns the
// HTTP client and the bandwidth/test negotiation.
type BandwidthSource interface {
	BandwidthTarget(ctx context.Context) (downloadURL string, sizeBytes int64, err error)
}

// chanFlag is a one-slot semaphore marking whether a task's probe is
// currently in flight, so a run that outlasts its own schedule interval
// does not overlap itself.
type chanFlag chan struct{}

func newChanFlag() chanFlag { return make(chanFlag, 1) }

// tryAcquire reports whether the task is not already running, and if so
// marks it running. Prevents a probe whose run time exceeds its own
// schedule interval from overlapping itself.
func (f chanFlag) tryAcquire() bool {
	select {
	case f <- struct{}{}:
		return true
	default:
		return false
	}
}

func (f chanFlag) release() { <-f }

// Scheduler owns every configured task's ticker goroutine plus the
// buffer-flush, minute-aggregation, and queue-cleanup background loops.
type Scheduler struct {
	db     *agentdb.DB
	cfg    *wire.AgentConfig
	tasks  []wire.TaskConfig
	bw     BandwidthSource
	logger zerolog.Logger

	mu     sync.Mutex
	buffer []wire.MetricData

	resultCh chan wire.MetricData
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler for the given tasks. bw may be nil; bandwidth
// tasks will fail their probe until a BandwidthSource is wired.
func New(db *agentdb.DB, cfg *wire.AgentConfig, tasks []wire.TaskConfig, bw BandwidthSource) *Scheduler {
	return &Scheduler{
		db:       db,
		cfg:      cfg,
		tasks:    tasks,
		bw:       bw,
		logger:   log.WithComponent("scheduler"),
		resultCh: make(chan wire.MetricData, cfg.ChannelBufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches every task's ticker goroutine, staggered so they don't
// all fire on the same tick, plus the buffer-collector, flush,
// aggregation, and cleanup loops.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.collectResults()

	stagger := staggerDelay(len(s.tasks))
	for i, t := range s.tasks {
		delay := time.Duration(i) * stagger
		s.wg.Add(1)
		go s.runTask(t, delay)
	}

	s.wg.Add(1)
	go s.flushLoop()

	s.wg.Add(1)
	go s.aggregateLoop()

	s.wg.Add(1)
	go s.cleanupLoop()
}

// staggerDelay spreads N tasks' first ticks across a 30-second window, so
// a large fleet of 1-second tasks doesn't all wake the scheduler in the
// same instant: delta = 30s / numTasks. Every task counts as one execution
// per minute; schedule_seconds is not taken into account. Zero or one task
// gets no delay.
func staggerDelay(numTasks int) time.Duration {
	if numTasks <= 1 {
		return 0
	}
	perMinute := math.Max(float64(numTasks), 1)
	seconds := 30.0 / perMinute
	return time.Duration(seconds * float64(time.Second))
}

// Stop signals every goroutine to exit and waits up to the configured
// graceful-shutdown timeout for them to drain.
func (s *Scheduler) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := time.Duration(s.cfg.GracefulShutdownTimeoutSeconds) * time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn().Msg("scheduler shutdown timed out, exiting with goroutines still draining")
	}
}

func (s *Scheduler) runTask(t wire.TaskConfig, initialDelay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.stopCh:
		return
	}

	interval := time.Duration(t.ScheduleSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	handle := newChanFlag()
	s.executeOnce(t, handle)

	for {
		select {
		case <-ticker.C:
			s.executeOnce(t, handle)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) executeOnce(t wire.TaskConfig, handle chanFlag) {
	if !handle.tryAcquire() {
		s.logger.Warn().Str("task", t.Name).Msg("skipped tick: previous run still in flight")
		return
	}
	go func() {
		defer handle.release()

		timeout := t.TimeoutOverride
		if timeout == 0 {
			timeout = time.Duration(t.TimeoutSeconds) * time.Second
		}
		if timeout == 0 {
			timeout = 30 * time.Second
		}

		var bwURL string
		var bwSize int64
		if t.Type == wire.TaskBandwidth && s.bw != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			url, size, err := s.bw.BandwidthTarget(ctx)
			cancel()
			if err != nil {
				s.logger.Warn().Str("task", t.Name).Err(err).Msg("bandwidth target negotiation failed")
				return
			}
			bwURL, bwSize = url, size
		}

		m, err := probe.Run(t.Type, t, timeout, bwURL, bwSize)
		if err != nil {
			metrics.ProbeExecutionsTotal.WithLabelValues(string(t.Type), "failure").Inc()
			s.logger.Error().Str("task", t.Name).Err(err).Msg("probe execution failed")
			return
		}
		metrics.ProbeExecutionsTotal.WithLabelValues(string(t.Type), "success").Inc()

		select {
		case s.resultCh <- m:
		case <-s.stopCh:
		}
	}()
}

func (s *Scheduler) collectResults() {
	defer s.wg.Done()
	for {
		select {
		case m := <-s.resultCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, m)
			if len(s.buffer) > maxBufferedMetrics {
				half := len(s.buffer) / 2
				s.logger.Warn().Int("dropped", half).Msg("raw metric buffer overflow, evicting oldest half")
				s.buffer = append([]wire.MetricData(nil), s.buffer[half:]...)
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) flushLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.MetricsFlushIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

func (s *Scheduler) flush() {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	if err := s.flushBatch(pending); err != nil {
		s.logger.Error().Err(err).Int("count", len(pending)).Msg("failed to flush raw metrics, requeueing")
		s.mu.Lock()
		s.buffer = append(pending, s.buffer...)
		s.mu.Unlock()
	}
}

func (s *Scheduler) flushBatch(pending []wire.MetricData) error {
	return s.db.Engine().WithTx(func(tx *sql.Tx) error {
		for _, m := range pending {
			if err := agentdb.InsertRawTx(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}
