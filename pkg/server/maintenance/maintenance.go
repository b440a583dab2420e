// Package maintenance runs the central server's two background sweeps that
// have no other natural owner: metrics retention cleanup and WAL
// checkpointing. Grounded on the agent scheduler's cleanupLoop (same
// ticker-per-concern shape), narrowed here to the two knobs serverdb
// exposes without a package of its own.
package maintenance

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/serverdb"
)

// Config carries the server.toml knobs the maintenance loop needs.
type Config struct {
	DataRetentionDays            int
	CleanupIntervalSeconds       int
	WALCheckpointIntervalSeconds int
}

// Runner owns the two ticker goroutines.
type Runner struct {
	cfg    Config
	db     *serverdb.DB
	logger zerolog.Logger
	nowFn  func() time.Time
}

func New(cfg Config, db *serverdb.DB) *Runner {
	return &Runner{cfg: cfg, db: db, logger: log.WithComponent("maintenance"), nowFn: time.Now}
}

// RunLoop runs both sweeps on their own intervals until stopCh closes.
func (r *Runner) RunLoop(stopCh <-chan struct{}) {
	cleanupTicker := time.NewTicker(time.Duration(r.cfg.CleanupIntervalSeconds) * time.Second)
	defer cleanupTicker.Stop()
	walTicker := time.NewTicker(time.Duration(r.cfg.WALCheckpointIntervalSeconds) * time.Second)
	defer walTicker.Stop()

	for {
		select {
		case <-cleanupTicker.C:
			r.cleanup()
		case <-walTicker.C:
			r.checkpoint()
		case <-stopCh:
			return
		}
	}
}

func (r *Runner) cleanup() {
	deleted, err := r.db.CleanupOldMetrics(r.cfg.DataRetentionDays, r.nowFn().Unix())
	if err != nil {
		r.logger.Error().Err(err).Msg("metrics retention cleanup failed")
		return
	}
	if deleted > 0 {
		r.logger.Info().Int64("rows", deleted).Msg("cleaned up expired metric aggregates")
	}
}

func (r *Runner) checkpoint() {
	if err := r.db.Engine().CheckpointWAL(); err != nil {
		r.logger.Warn().Err(err).Msg("wal checkpoint failed")
	}
}
