package metrics

import (
	"time"

	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/serverdb"
)

// ServerCollector periodically snapshots serverdb state into the fleet
// gauges. Grounded on the teacher's Collector (same ticker-driven poll
// shape), narrowed from cluster node/service/raft state to agent fleet
// health.
type ServerCollector struct {
	db     *serverdb.DB
	stopCh chan struct{}
}

// NewServerCollector builds a collector over db.
func NewServerCollector(db *serverdb.DB) *ServerCollector {
	return &ServerCollector{db: db, stopCh: make(chan struct{})}
}

// Start begins collecting on a fixed interval, immediately and then every
// 15 seconds, until Stop is called.
func (c *ServerCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *ServerCollector) Stop() { close(c.stopCh) }

func (c *ServerCollector) collect() {
	agents, err := c.db.ListAgents()
	if err != nil {
		return
	}

	checks, err := c.db.LatestHealthChecks()
	if err != nil {
		return
	}
	problematic := make(map[string]bool, len(checks))
	for _, ch := range checks {
		problematic[ch.AgentID] = ch.IsProblematic
	}

	healthy, flagged := 0, 0
	for _, a := range agents {
		if problematic[a.AgentID] {
			flagged++
		} else {
			healthy++
		}
	}
	AgentsTotal.WithLabelValues("true").Set(float64(flagged))
	AgentsTotal.WithLabelValues("false").Set(float64(healthy))
}

// AgentCollector periodically snapshots the agent's local send queue depth
// into SendQueueDepth.
type AgentCollector struct {
	db     *agentdb.DB
	stopCh chan struct{}
}

// NewAgentCollector builds a collector over db.
func NewAgentCollector(db *agentdb.DB) *AgentCollector {
	return &AgentCollector{db: db, stopCh: make(chan struct{})}
}

// Start begins collecting on a fixed interval until Stop is called.
func (c *AgentCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *AgentCollector) Stop() { close(c.stopCh) }

func (c *AgentCollector) collect() {
	depth, err := c.db.QueueDepth()
	if err != nil {
		return
	}
	SendQueueDepth.Set(float64(depth))
}
