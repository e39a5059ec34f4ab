// Package main is the entrypoint for the bpcmon agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/agent"
	"github.com/MacJediWizard/bpcmon/internal/backuppc"
	"github.com/MacJediWizard/bpcmon/internal/config"
	"github.com/MacJediWizard/bpcmon/internal/httpclient"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// errReported means the failure was already printed to stderr.
var errReported = errors.New("reported")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &agentFlags{}

	rootCmd := &cobra.Command{
		Use:   "bpcmon-agent",
		Short: "BackupPC monitoring agent",
		Long: `bpcmon-agent polls the local BackupPC metrics endpoint and reports
host status to the bpcmon collector. It also executes refresh, status,
restart and stop commands queued by an operator.

Settings come from the config file, then the environment, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, os.LookupEnv)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				if errors.Is(err, config.ErrMissingSiteID) || errors.Is(err, config.ErrMissingAgentToken) {
					fmt.Fprintln(cmd.ErrOrStderr(), "ERROR: Site ID and Agent Token are required.")
					return errReported
				}
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runAgent(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags.register(rootCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bpcmon-agent %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func runAgent(cfg *config.AgentConfig, stdout, stderr io.Writer) error {
	logger, closeLog := agent.NewLogger(agent.LogOptions{
		File:   cfg.LogFile,
		Level:  cfg.LogLevel,
		Stdout: stdout,
		Stderr: stderr,
	})
	defer closeLog()

	logger = logger.With().Str("version", Version).Logger()

	pidOwned := false
	if err := agent.WritePIDFile(cfg.PIDFile); err != nil {
		logger.Warn().Err(err).Str("path", cfg.PIDFile).Msg("cannot write pid file")
	} else {
		pidOwned = true
	}
	releasePID := func() {
		if !pidOwned {
			return
		}
		pidOwned = false
		if err := agent.RemovePIDFile(cfg.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("cannot remove pid file")
		}
	}
	defer releasePID()

	userAgent := "bpcmon-agent/" + Version
	collectorClient, err := httpclient.New(httpclient.Options{
		Timeout:   agent.PushTimeout,
		Proxy:     &cfg.Proxy,
		UserAgent: userAgent,
	})
	if err != nil {
		return fmt.Errorf("create collector client: %w", err)
	}
	if cfg.Proxy.HasProxy() {
		logger.Info().Str("proxy", httpclient.Describe(&cfg.Proxy)).Msg("using proxy for collector requests")
	}

	// BackupPC is reached directly.
	backupPCClient, err := httpclient.New(httpclient.Options{
		Timeout:   backuppc.FetchTimeout,
		UserAgent: userAgent,
	})
	if err != nil {
		return fmt.Errorf("create BackupPC client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	infoCtx, cancelInfo := context.WithTimeout(ctx, 5*time.Second)
	identity := agent.Identity{
		Version:  Version,
		Hostname: agent.Hostname(),
		OSInfo:   agent.CollectOSInfo(infoCtx),
	}
	cancelInfo()

	collector := agent.NewCollector(cfg.DashboardURL, cfg.SiteID, cfg.AgentToken, collectorClient)
	source := backuppc.NewClient(cfg.BackupPCURL, agent.CredentialsFrom(cfg), backupPCClient, logger)

	rt := agent.NewRuntime(cfg, identity, collector, source, logger)
	rt.OnRestart = func() error {
		releasePID()
		return agent.SpawnReplacement()
	}

	logger.Info().
		Int64("site_id", cfg.SiteID).
		Str("dashboard_url", cfg.DashboardURL).
		Str("backuppc_url", cfg.BackupPCURL).
		Msg("starting bpcmon agent")

	return rt.Run(ctx)
}
