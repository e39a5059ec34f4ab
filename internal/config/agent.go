// Package config provides configuration management for the bpcmon agent and collector.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent defaults.
const (
	DefaultConfigPath          = "/etc/bpcmon/agent.yml"
	DefaultDashboardURL        = "http://localhost:8000"
	DefaultBackupPCURL         = "http://localhost/BackupPC"
	DefaultPollingInterval     = 60
	DefaultCommandPollInterval = 30
	DefaultHeartbeatInterval   = 300
	DefaultLogFile             = "/var/log/bpcmon-agent.log"
	DefaultPIDFile             = "/var/run/bpcmon-agent.pid"
	DefaultLogLevel            = "info"
)

var (
	// ErrMissingSiteID is returned when no site id is configured.
	ErrMissingSiteID = errors.New("site_id is required")
	// ErrMissingAgentToken is returned when no agent token is configured.
	ErrMissingAgentToken = errors.New("agent_token is required")
)

// ProxyConfig holds outbound proxy settings for the agent.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// AgentConfig holds the agent's configuration. Intervals are in seconds.
type AgentConfig struct {
	SiteID       int64  `yaml:"site_id,omitempty"`
	AgentToken   string `yaml:"agent_token,omitempty"`
	DashboardURL string `yaml:"dashboard_url,omitempty"`

	BackupPCURL      string `yaml:"backuppc_url,omitempty"`
	BackupPCUsername string `yaml:"backuppc_username,omitempty"`
	BackupPCPassword string `yaml:"backuppc_password,omitempty"`
	APIKey           string `yaml:"api_key,omitempty"`

	PollingInterval     int `yaml:"polling_interval,omitempty"`
	CommandPollInterval int `yaml:"ws_poll_interval,omitempty"`
	HeartbeatInterval   int `yaml:"heartbeat_interval,omitempty"`

	LogFile  string `yaml:"log_file,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
	PIDFile  string `yaml:"pid_file,omitempty"`

	Proxy ProxyConfig `yaml:"proxy,omitempty"`
}

// DefaultAgentConfig returns a config populated with defaults only.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		DashboardURL:        DefaultDashboardURL,
		BackupPCURL:         DefaultBackupPCURL,
		PollingInterval:     DefaultPollingInterval,
		CommandPollInterval: DefaultCommandPollInterval,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		LogFile:             DefaultLogFile,
		LogLevel:            DefaultLogLevel,
		PIDFile:             DefaultPIDFile,
	}
}

// Validate checks that the configuration has the fields required to start.
func (c *AgentConfig) Validate() error {
	var errs []error
	if c.SiteID <= 0 {
		errs = append(errs, ErrMissingSiteID)
	}
	if c.AgentToken == "" {
		errs = append(errs, ErrMissingAgentToken)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if c.DashboardURL == "" {
		return errors.New("dashboard_url is required")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be positive, got %d", c.PollingInterval)
	}
	return nil
}

// PollingDuration returns the polling interval as a duration.
func (c *AgentConfig) PollingDuration() time.Duration {
	return time.Duration(c.PollingInterval) * time.Second
}

// CommandPollEvery returns how many polling ticks separate two command polls.
// A poll waits until at least CommandPollInterval seconds have passed, so a
// ratio that is not whole rounds up.
func (c *AgentConfig) CommandPollEvery() int {
	if c.PollingInterval <= 0 || c.CommandPollInterval <= 0 {
		return 1
	}
	return max(1, (c.CommandPollInterval+c.PollingInterval-1)/c.PollingInterval)
}

// HeartbeatEvery returns how many polling ticks separate two heartbeats.
// The ratio rounds down.
func (c *AgentConfig) HeartbeatEvery() int {
	if c.PollingInterval <= 0 || c.HeartbeatInterval <= 0 {
		return 1
	}
	return max(1, c.HeartbeatInterval/c.PollingInterval)
}

// Load reads the configuration file at path on top of the defaults.
// A missing file is not an error.
func Load(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables. Empty values are ignored.
func (c *AgentConfig) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("SITE_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse SITE_ID: %w", err)
		}
		c.SiteID = id
	}

	strs := map[string]*string{
		"AGENT_TOKEN":       &c.AgentToken,
		"DASHBOARD_URL":     &c.DashboardURL,
		"BACKUPPC_URL":      &c.BackupPCURL,
		"BACKUPPC_USERNAME": &c.BackupPCUsername,
		"BACKUPPC_PASSWORD": &c.BackupPCPassword,
		"BACKUPPC_API_KEY":  &c.APIKey,
		"LOG_FILE":          &c.LogFile,
		"LOG_LEVEL":         &c.LogLevel,
		"PID_FILE":          &c.PIDFile,
		"HTTP_PROXY":        &c.Proxy.HTTPProxy,
		"HTTPS_PROXY":       &c.Proxy.HTTPSProxy,
		"NO_PROXY":          &c.Proxy.NoProxy,
		"SOCKS5_PROXY":      &c.Proxy.SOCKS5Proxy,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POLLING_INTERVAL":   &c.PollingInterval,
		"WS_POLL_INTERVAL":   &c.CommandPollInterval,
		"HEARTBEAT_INTERVAL": &c.HeartbeatInterval,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}

	return nil
}
