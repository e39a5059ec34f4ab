package main

import (
	"fmt"

	"github.com/MacJediWizard/bpcmon/internal/config"
	"github.com/spf13/cobra"
)

// agentFlags holds the command line overrides. Only flags the user set are
// applied, so an unset flag never masks the environment or config file.
type agentFlags struct {
	configPath   string
	siteID       int64
	agentToken   string
	dashboardURL string
	backupPCURL  string
	username     string
	password     string
	apiKey       string
	interval     int
	logFile      string
	pidFile      string
	logLevel     string
}

func (f *agentFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "Path to the agent config file")
	fs.Int64Var(&f.siteID, "site-id", 0, "Site ID assigned by the dashboard")
	fs.StringVar(&f.agentToken, "agent-token", "", "Agent token for this site")
	fs.StringVar(&f.dashboardURL, "dashboard-url", config.DefaultDashboardURL, "Collector base URL")
	fs.StringVar(&f.backupPCURL, "backuppc-url", config.DefaultBackupPCURL, "BackupPC base URL")
	fs.StringVar(&f.username, "username", "", "BackupPC username")
	fs.StringVar(&f.password, "password", "", "BackupPC password")
	fs.StringVar(&f.apiKey, "api-key", "", "BackupPC API key")
	fs.IntVar(&f.interval, "interval", config.DefaultPollingInterval, "Polling interval in seconds")
	fs.StringVar(&f.logFile, "log", config.DefaultLogFile, "Log file path")
	fs.StringVar(&f.pidFile, "pid-file", config.DefaultPIDFile, "PID file path")
	fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
}

// loadConfig layers defaults, the config file, the environment and finally
// the flags the user set.
func loadConfig(cmd *cobra.Command, f *agentFlags, lookup config.LookupFunc) (*config.AgentConfig, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("site-id") {
		cfg.SiteID = f.siteID
	}
	if changed("interval") {
		cfg.PollingInterval = f.interval
	}

	strs := []struct {
		name string
		src  string
		dst  *string
	}{
		{"agent-token", f.agentToken, &cfg.AgentToken},
		{"dashboard-url", f.dashboardURL, &cfg.DashboardURL},
		{"backuppc-url", f.backupPCURL, &cfg.BackupPCURL},
		{"username", f.username, &cfg.BackupPCUsername},
		{"password", f.password, &cfg.BackupPCPassword},
		{"api-key", f.apiKey, &cfg.APIKey},
		{"log", f.logFile, &cfg.LogFile},
		{"pid-file", f.pidFile, &cfg.PIDFile},
		{"log-level", f.logLevel, &cfg.LogLevel},
	}
	for _, s := range strs {
		if changed(s.name) {
			*s.dst = s.src
		}
	}

	return cfg, nil
}
