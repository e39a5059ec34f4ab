package models

import (
	"fmt"
	"time"
)

// ConnectionMethod is how the collector obtains a site's metrics.
type ConnectionMethod string

const (
	// ConnectionSSH means the collector pulls over an SSH tunnel.
	ConnectionSSH ConnectionMethod = "ssh"
	// ConnectionAgent means an on-premise agent pushes to the collector.
	ConnectionAgent ConnectionMethod = "agent"
)

// DefaultPollingInterval is the polling interval, in seconds, of a new site.
const DefaultPollingInterval = 30

// AgentActiveWindow is how recently an agent must have made contact to count as active.
const AgentActiveWindow = 10 * time.Minute

// Site is a monitored BackupPC server.
type Site struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	BackupPCURL      string           `json:"backuppc_url"`
	ConnectionMethod ConnectionMethod `json:"connection_method"`
	PollingInterval  int              `json:"polling_interval"`
	BackupPCUsername string           `json:"backuppc_username,omitempty"`
	// BackupPCPassword and APIKey are stored encrypted (base64 AES-GCM).
	BackupPCPassword string     `json:"-"`
	APIKey           string     `json:"-"`
	AgentToken       *string    `json:"-"`
	AgentVersion     *string    `json:"agent_version,omitempty"`
	AgentHostname    *string    `json:"agent_hostname,omitempty"`
	LastAgentContact *time.Time `json:"last_agent_contact,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasAgentToken reports whether an agent token has been generated for the site.
func (s *Site) HasAgentToken() bool {
	return s.AgentToken != nil && *s.AgentToken != ""
}

// HasActiveAgent reports whether the site's agent has made contact within AgentActiveWindow.
func (s *Site) HasActiveAgent(now time.Time) bool {
	if !s.HasAgentToken() || s.LastAgentContact == nil {
		return false
	}
	return now.Sub(*s.LastAgentContact) <= AgentActiveWindow
}

// Channel returns the realtime channel name for site events.
func (s *Site) Channel() string {
	return SiteChannel(s.ID)
}

// SiteChannel returns the realtime channel name for a site id.
func SiteChannel(siteID int64) string {
	return fmt.Sprintf("site.%d", siteID)
}

// AgentChannel returns the realtime channel name for commands addressed to a site's agent.
func AgentChannel(siteID int64) string {
	return fmt.Sprintf("agent.%d", siteID)
}
