package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/macwilam/netwatch/pkg/agent/config"
	"github.com/macwilam/netwatch/pkg/agent/scheduler"
	"github.com/macwilam/netwatch/pkg/agent/sender"
	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/wire"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "netwatch-agent <config_dir>",
	Short:   "netwatch agent: runs scheduled network probes and ships results to the central server",
	Args:    cobra.ExactArgs(1),
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"netwatch-agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("agent-id", "", "Override agent_id and persist it to agent.toml")
	rootCmd.Flags().String("server-url", "", "Override central_server_url and persist it to agent.toml")
	rootCmd.Flags().String("api-key", "", "Override api_key and persist it to agent.toml")
	rootCmd.Flags().Int("retention-days", 0, "Override local_data_retention_days and persist it to agent.toml")
	rootCmd.Flags().String("auto-update-tasks", "", "Override auto_update_tasks (true/false) and persist it to agent.toml")
	rootCmd.Flags().String("local-only", "", "Override local_only (true/false) and persist it to agent.toml")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runAgent(cmd *cobra.Command, args []string) error {
	dir := args[0]
	logger := log.WithComponent("agent-main")

	loaded, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}

	if err := applyFlagOverrides(cmd, loaded.Agent, dir); err != nil {
		return err
	}

	db, err := agentdb.Open(filepath.Join(dir, "agent.db"), loaded.Agent.DatabaseBusyTimeoutSeconds)
	if err != nil {
		return fmt.Errorf("open agent database: %w", err)
	}
	defer db.Close()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("database", true, "open")

	var sched *scheduler.Scheduler
	var sndr *sender.Sender
	var mu sync.Mutex

	startSchedulerLocked := func(l *config.Loaded) {
		var bw scheduler.BandwidthSource
		if !l.Agent.LocalOnly && sndr != nil {
			bw = sndr
		}
		sched = scheduler.New(db, l.Agent, l.Tasks.Tasks, bw)
		sched.Start()
	}

	if !loaded.Agent.LocalOnly {
		sndr = sender.New(db, senderConfigFrom(loaded.Agent, Version, dir), loaded, func(tasksCfg *wire.TasksConfig) {
			mu.Lock()
			defer mu.Unlock()
			if sched != nil {
				sched.Stop()
			}
			loaded.Tasks = tasksCfg
			startSchedulerLocked(loaded)
		})
		sndr.Start()
		metrics.RegisterComponent("sender", true, "running")
	}

	mu.Lock()
	startSchedulerLocked(loaded)
	mu.Unlock()
	metrics.RegisterComponent("scheduler", true, "running")

	watcher, err := config.NewWatcher(dir, loaded, func(l *config.Loaded) {
		mu.Lock()
		defer mu.Unlock()
		if sndr != nil {
			sndr.UpdateTasks(l.TasksContent, l.Tasks.Tasks)
		}
		if sched != nil {
			sched.Stop()
		}
		startSchedulerLocked(l)
		logger.Info().Msg("reloaded config from disk change")
	})
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Close()

	collector := metrics.NewAgentCollector(db)
	collector.Start()
	defer collector.Stop()

	metricsAddr := "127.0.0.1:9090"
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("agent metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	mu.Lock()
	if sched != nil {
		sched.Stop()
	}
	mu.Unlock()
	if sndr != nil {
		sndr.Stop()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func senderConfigFrom(cfg *wire.AgentConfig, version, dir string) sender.Config {
	return sender.Config{
		ServerURL:                        cfg.CentralServerURL,
		APIKey:                           cfg.APIKey,
		AgentID:                          cfg.AgentID,
		AgentVersion:                     version,
		BatchSize:                        cfg.MetricsBatchSize,
		MaxRetries:                       cfg.MetricsMaxRetries,
		SendIntervalSeconds:              cfg.MetricsSendIntervalSeconds,
		HTTPClientTimeoutSeconds:         cfg.HTTPClientTimeoutSeconds,
		HTTPClientRefreshIntervalSeconds: cfg.HTTPClientRefreshIntervalSeconds,
		AutoUpdateTasks:                  cfg.AutoUpdateTasks,
		ConfigDir:                        dir,
	}
}

// applyFlagOverrides applies any set CLI flags onto cfg, validates the
// result, and persists it back to agent.toml before anything else opens
// the database or starts a network connection.
func applyFlagOverrides(cmd *cobra.Command, cfg *wire.AgentConfig, dir string) error {
	changed := false

	if v, _ := cmd.Flags().GetString("agent-id"); v != "" {
		cfg.AgentID = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("server-url"); v != "" {
		cfg.CentralServerURL = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.APIKey = v
		changed = true
	}
	if v, _ := cmd.Flags().GetInt("retention-days"); v != 0 {
		cfg.LocalDataRetentionDays = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("auto-update-tasks"); v != "" {
		b, err := parseBoolFlag("auto-update-tasks", v)
		if err != nil {
			return err
		}
		cfg.AutoUpdateTasks = b
		changed = true
	}
	if v, _ := cmd.Flags().GetString("local-only"); v != "" {
		b, err := parseBoolFlag("local-only", v)
		if err != nil {
			return err
		}
		cfg.LocalOnly = b
		changed = true
	}

	if !changed {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config after flag overrides: %w", err)
	}

	content, err := wire.MarshalAgentConfig(cfg)
	if err != nil {
		return fmt.Errorf("marshal agent.toml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "agent.toml"), content, 0o644); err != nil {
		return fmt.Errorf("persist agent.toml: %w", err)
	}
	return nil
}

func parseBoolFlag(name, v string) (bool, error) {
	switch v {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("--%s must be true or false, got %q", name, v)
	}
}
