package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/server/api"
	"github.com/macwilam/netwatch/pkg/server/bandwidth"
	"github.com/macwilam/netwatch/pkg/server/configcache"
	"github.com/macwilam/netwatch/pkg/server/healthmonitor"
	"github.com/macwilam/netwatch/pkg/server/maintenance"
	"github.com/macwilam/netwatch/pkg/server/reconfigure"
	"github.com/macwilam/netwatch/pkg/serverdb"
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
	Use:     "netwatch-server <config_file>",
	Short:   "netwatch central server: ingests agent metrics, distributes config, coordinates bandwidth tests",
	Args:    cobra.ExactArgs(1),
	Version: Version,
	RunE:    runServer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"netwatch-server version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("listen-address", "", "Override listen_address and persist it to the config file")
	rootCmd.Flags().String("api-key", "", "Override api_key and persist it to the config file")
	rootCmd.Flags().Int("retention-days", 0, "Override data_retention_days and persist it to the config file")
	rootCmd.Flags().String("agent-configs-dir", "", "Override agent_configs_dir and persist it to the config file")
	rootCmd.Flags().Int("bandwidth-size-mb", 0, "Override bandwidth_test_size_mb and persist it to the config file")
	rootCmd.Flags().Int("reconfigure-interval", 0, "Override reconfigure_check_interval_seconds and persist it to the config file")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath := args[0]
	logger := log.WithComponent("server-main")

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	cfg, err := wire.ParseServerConfig(content)
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if err := applyFlagOverrides(cmd, cfg, configPath); err != nil {
		return err
	}

	baseDir := filepath.Dir(configPath)
	agentConfigsDir := cfg.AgentConfigsDir
	if !filepath.IsAbs(agentConfigsDir) {
		agentConfigsDir = filepath.Join(baseDir, agentConfigsDir)
	}
	reconfigureDir := cfg.ReconfigureDir
	if !filepath.IsAbs(reconfigureDir) {
		reconfigureDir = filepath.Join(baseDir, reconfigureDir)
	}
	if err := os.MkdirAll(reconfigureDir, 0o755); err != nil {
		return fmt.Errorf("create reconfigure dir: %w", err)
	}

	db, err := serverdb.Open(filepath.Join(baseDir, "server.db"), 5)
	if err != nil {
		return fmt.Errorf("open server database: %w", err)
	}
	defer db.Close()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("database", true, "open")

	cache, err := configcache.Open(agentConfigsDir)
	if err != nil {
		return fmt.Errorf("open agent config cache: %w", err)
	}
	defer cache.Close()
	metrics.RegisterComponent("configcache", true, "watching")

	bw := bandwidth.New(bandwidth.Config{
		TestSizeBytes:           int64(cfg.BandwidthTestSizeMB) * 1024 * 1024,
		TestTimeout:             time.Duration(cfg.BandwidthTestTimeoutSeconds) * time.Second,
		MaxDelay:                time.Duration(cfg.BandwidthMaxQueueDelaySeconds) * time.Second,
		BaseDelay:               time.Duration(cfg.BandwidthBaseQueueDelaySeconds) * time.Second,
		PositionMultiplierDelay: cfg.BandwidthPositionMultiplierDelay,
	})

	srv := api.New(cfg, db, cache, bw)

	stopCh := make(chan struct{})

	collector := metrics.NewServerCollector(db)
	collector.Start()
	defer collector.Stop()

	maint := maintenance.New(maintenance.Config{
		DataRetentionDays:            cfg.DataRetentionDays,
		CleanupIntervalSeconds:       cfg.CleanupIntervalSeconds,
		WALCheckpointIntervalSeconds: cfg.WALCheckpointIntervalSeconds,
	}, db)
	go maint.RunLoop(stopCh)

	reconfRunner := reconfigure.New(reconfigureDir, agentConfigsDir)
	go reconfRunner.RunLoop(time.Duration(cfg.ReconfigureCheckIntervalSeconds)*time.Second, stopCh)
	metrics.RegisterComponent("reconfigure", true, "running")

	if cfg.MonitorAgentsHealth {
		healthMon := healthmonitor.New(healthmonitor.Config{
			CheckIntervalSeconds:  cfg.HealthCheckIntervalSeconds,
			RetentionDays:         cfg.HealthCheckRetentionDays,
			SuccessRatioThreshold: cfg.HealthSuccessRatioThreshold,
			MinimumAgentVersion:   cfg.MinimumAgentVersion,
			ReportPath:            filepath.Join(baseDir, "problematic_agents.txt"),
		}, db, cache)
		go healthMon.RunLoop(stopCh)
		metrics.RegisterComponent("healthmonitor", true, "running")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("api", true, "listening")

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
	logger.Info().Str("addr", metricsAddr).Msg("server metrics endpoint listening")
	logger.Info().Str("addr", cfg.ListenAddress).Msg("netwatch server running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("shutting down after api server error")
	}

	close(stopCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *wire.ServerConfig, configPath string) error {
	changed := false

	if v, _ := cmd.Flags().GetString("listen-address"); v != "" {
		cfg.ListenAddress = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.APIKey = v
		changed = true
	}
	if v, _ := cmd.Flags().GetInt("retention-days"); v != 0 {
		cfg.DataRetentionDays = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("agent-configs-dir"); v != "" {
		cfg.AgentConfigsDir = v
		changed = true
	}
	if v, _ := cmd.Flags().GetInt("bandwidth-size-mb"); v != 0 {
		cfg.BandwidthTestSizeMB = v
		changed = true
	}
	if v, _ := cmd.Flags().GetInt("reconfigure-interval"); v != 0 {
		cfg.ReconfigureCheckIntervalSeconds = v
		changed = true
	}

	if !changed {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config after flag overrides: %w", err)
	}

	content, err := wire.MarshalServerConfig(cfg)
	if err != nil {
		return fmt.Errorf("marshal config file: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		return fmt.Errorf("persist config file: %w", err)
	}
	return nil
}
