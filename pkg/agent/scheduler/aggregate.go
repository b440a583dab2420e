package scheduler

import (
	"database/sql"
	"errors"
	"time"

	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

// aggregateLoop rolls every task up to its minute boundary once a minute
// has fully elapsed, each task isolated in its own transaction so one
// task's aggregation failure does not block the others.
func (s *Scheduler) aggregateLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastBoundary := floorToMinute(time.Now().Unix())

	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			boundary := floorToMinute(now)
			if boundary > lastBoundary {
				// Aggregate strictly the trailing [boundary-60, boundary) minute. If
				// ticks were missed (host sleep, scheduling delay), lastBoundary can
				// trail boundary by more than 60s; the skipped minutes in between
				// are not backfilled rather than produced as one oversized period.
				s.aggregateMinute(boundary-60, boundary)
				lastBoundary = boundary
			}
		case <-s.stopCh:
			return
		}
	}
}

func floorToMinute(unixSecs int64) int64 {
	return unixSecs - (unixSecs % 60)
}

func (s *Scheduler) aggregateMinute(periodStart, periodEnd int64) {
	// Force the in-memory buffer to disk first: a probe that completed just
	// before the boundary but hasn't hit its own flush tick yet would
	// otherwise be invisible to AggregateTask's raw_metric_<kind> query and
	// permanently excluded from this period's aggregate.
	s.flush()

	errNoSamples := errors.New("no samples in period")
	for _, t := range s.tasks {
		kind, ok := wire.KindForTaskType(t.Type)
		if !ok {
			continue
		}
		err := s.db.Engine().WithTx(func(tx *sql.Tx) error {
			rowID, sampleCount, err := agentdb.AggregateTask(tx, kind, t.Name, periodStart, periodEnd)
			if err != nil {
				return err
			}
			if sampleCount == 0 {
				// Roll back the empty aggregate row: a minute with no
				// samples yields neither an aggregate nor a queue entry.
				return errNoSamples
			}
			return agentdb.EnqueueSend(tx, kind, rowID, t.Name, periodStart, periodEnd, time.Now().Unix())
		})
		if err != nil && !errors.Is(err, errNoSamples) {
			s.logger.Error().Str("task", t.Name).Err(err).Msg("minute aggregation failed")
		}
	}
}

// cleanupLoop runs the queue and data retention sweeps on their own
// configured intervals.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	queueTicker := time.NewTicker(time.Duration(s.cfg.QueueCleanupIntervalSeconds) * time.Second)
	defer queueTicker.Stop()
	dataTicker := time.NewTicker(time.Duration(s.cfg.DataCleanupIntervalSeconds) * time.Second)
	defer dataTicker.Stop()

	for {
		select {
		case <-queueTicker.C:
			s.cleanupQueue()
		case <-dataTicker.C:
			s.cleanupData()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) cleanupQueue() {
	res, err := s.db.Cleanup(s.cfg.LocalDataRetentionDays, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Msg("queue cleanup failed")
		return
	}
	if res.QueueRowsDeleted > 0 {
		s.logger.Info().Int64("rows", res.QueueRowsDeleted).Msg("cleaned up sent queue rows")
	}
}

func (s *Scheduler) cleanupData() {
	res, err := s.db.Cleanup(s.cfg.LocalDataRetentionDays, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Msg("data retention cleanup failed")
		return
	}
	s.logger.Info().
		Int64("raw_deleted", res.RawRowsDeleted).
		Int64("agg_deleted", res.AggRowsDeleted).
		Msg("data retention cleanup complete")

	if err := s.db.Engine().CheckpointWAL(); err != nil {
		s.logger.Warn().Err(err).Msg("wal checkpoint failed")
	}
}
