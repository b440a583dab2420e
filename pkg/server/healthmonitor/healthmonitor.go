// Package healthmonitor quantifies each known agent's liveness (spec.md
// §4.7): expected-vs-received aggregate counts over a trailing window,
// a version check, and a problematic_agents.txt report. Grounded on the
// teacher's pkg/worker/health_monitor.go ticker-driven per-entity status
// computation, generalized from per-container health to per-agent health.
package healthmonitor

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/server/configcache"
	"github.com/macwilam/netwatch/pkg/serverdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

// Config carries the server.toml knobs the monitor needs.
type Config struct {
	CheckIntervalSeconds  int
	RetentionDays         int
	SuccessRatioThreshold float64
	MinimumAgentVersion   string
	ReportPath            string
}

// Monitor runs the periodic health-check pass.
type Monitor struct {
	cfg    Config
	db     *serverdb.DB
	cache  *configcache.Cache
	logger zerolog.Logger
	nowFn  func() time.Time
}

func New(cfg Config, db *serverdb.DB, cache *configcache.Cache) *Monitor {
	return &Monitor{cfg: cfg, db: db, cache: cache, logger: log.WithComponent("healthmonitor"), nowFn: time.Now}
}

// RunLoop runs RunOnce every CheckIntervalSeconds until stopCh closes.
func (m *Monitor) RunLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(m.cfg.CheckIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(); err != nil {
				m.logger.Error().Err(err).Msg("health monitor pass failed")
			}
		case <-stopCh:
			return
		}
	}
}

// RunOnce computes and persists one health-check pass for every known
// agent, then writes the operator-facing report and sweeps old rows.
func (m *Monitor) RunOnce() error {
	now := m.nowFn().Unix()
	periodEnd := now - 60
	periodStart := periodEnd - int64(m.cfg.CheckIntervalSeconds)

	agents, err := m.db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	var checks []wire.AgentHealthCheck
	byAgentID := make(map[string]wire.AgentRecord, len(agents))
	for _, agent := range agents {
		byAgentID[agent.AgentID] = agent
		check, err := m.checkAgent(agent, periodStart, periodEnd, now)
		if err != nil {
			m.logger.Warn().Str("agent_id", agent.AgentID).Err(err).Msg("health check failed for agent")
			continue
		}
		checks = append(checks, check)
	}

	for _, c := range checks {
		if err := m.db.InsertHealthCheck(c); err != nil {
			return fmt.Errorf("insert health check for %s: %w", c.AgentID, err)
		}
	}

	if err := m.writeReport(checks, byAgentID); err != nil {
		m.logger.Error().Err(err).Msg("failed to write problematic_agents.txt")
	}

	if _, err := m.db.CleanupOldHealthData(m.cfg.RetentionDays, now); err != nil {
		m.logger.Error().Err(err).Msg("failed to clean up old health data")
	}
	return nil
}

func (m *Monitor) checkAgent(agent wire.AgentRecord, periodStart, periodEnd, now int64) (wire.AgentHealthCheck, error) {
	expected := m.expectedEntries(agent.AgentID, periodStart, periodEnd)

	received, err := m.db.CountReceivedEntries(agent.AgentID, periodStart, periodEnd)
	if err != nil {
		return wire.AgentHealthCheck{}, fmt.Errorf("count received entries: %w", err)
	}

	ratio := 1.0
	if expected > 0 {
		ratio = float64(received) / float64(expected)
	}

	outdated := versionOutdated(agent.AgentVersion, m.cfg.MinimumAgentVersion)
	problematic := ratio < m.cfg.SuccessRatioThreshold || outdated

	return wire.AgentHealthCheck{
		AgentID:              agent.AgentID,
		CheckTimestamp:       now,
		PeriodStart:          periodStart,
		PeriodEnd:            periodEnd,
		SecondsSinceLastPush: now - agent.LastSeen,
		ExpectedEntries:      expected,
		ReceivedEntries:      received,
		SuccessRatio:         ratio,
		IsProblematic:        problematic,
	}, nil
}

// expectedEntries sums, over every task in the agent's cached tasks.toml,
// how many aggregation slots should have fired within [periodStart,
// periodEnd): W = window/60 slots for schedule_seconds < 60, else
// floor(window/schedule_seconds).
func (m *Monitor) expectedEntries(agentID string, periodStart, periodEnd int64) int {
	entry, ok := m.cache.Get(agentID)
	if !ok {
		return 0
	}
	tasksCfg, err := wire.ParseTasksConfig(entry.Content)
	if err != nil {
		return 0
	}

	window := periodEnd - periodStart
	if window <= 0 {
		return 0
	}
	windowSlots := int(window / 60)

	total := 0
	for _, t := range tasksCfg.Tasks {
		if t.ScheduleSeconds < 60 {
			total += windowSlots
		} else {
			total += int(window / int64(t.ScheduleSeconds))
		}
	}
	return total
}

// versionOutdated compares a "major.minor.patch" agent version against the
// configured minimum; missing or unparseable versions count as outdated.
func versionOutdated(agentVersion, minimum string) bool {
	av, ok := parseVersion(agentVersion)
	if !ok {
		return true
	}
	mv, ok := parseVersion(minimum)
	if !ok {
		return false
	}
	for i := 0; i < 3; i++ {
		if av[i] != mv[i] {
			return av[i] < mv[i]
		}
	}
	return false
}

func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

// writeReport overwrites ReportPath with a human-readable summary of every
// problematic agent, or an all-healthy notice if there are none.
func (m *Monitor) writeReport(checks []wire.AgentHealthCheck, byAgentID map[string]wire.AgentRecord) error {
	var problematic []wire.AgentHealthCheck
	for _, c := range checks {
		if c.IsProblematic {
			problematic = append(problematic, c)
		}
	}
	sort.Slice(problematic, func(i, j int) bool { return problematic[i].AgentID < problematic[j].AgentID })

	var b strings.Builder
	fmt.Fprintf(&b, "netwatch agent health report — %s\n", m.nowFn().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "checked %d agents, %d problematic\n\n", len(checks), len(problematic))

	if len(problematic) == 0 {
		b.WriteString("all agents healthy\n")
	} else {
		for _, c := range problematic {
			agent := byAgentID[c.AgentID]
			outdated := versionOutdated(agent.AgentVersion, m.cfg.MinimumAgentVersion)
			fmt.Fprintf(&b, "agent_id: %s\n", c.AgentID)
			fmt.Fprintf(&b, "  agent_version: %s\n", agent.AgentVersion)
			fmt.Fprintf(&b, "  version_outdated: %t\n", outdated)
			fmt.Fprintf(&b, "  seconds_since_last_push: %d\n", c.SecondsSinceLastPush)
			fmt.Fprintf(&b, "  expected_entries: %d\n", c.ExpectedEntries)
			fmt.Fprintf(&b, "  received_entries: %d\n", c.ReceivedEntries)
			fmt.Fprintf(&b, "  success_ratio: %.3f\n", c.SuccessRatio)
			fmt.Fprintf(&b, "  status: problematic\n\n")
		}
	}
	fmt.Fprintf(&b, "total problematic: %d\n", len(problematic))

	return os.WriteFile(m.cfg.ReportPath, []byte(b.String()), 0o644)
}
