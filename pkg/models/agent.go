package models

// OSInfo contains operating system information from the agent.
type OSInfo struct {
	OS              string `json:"os,omitempty" example:"linux"`
	Platform        string `json:"platform,omitempty" example:"debian"`
	PlatformVersion string `json:"platform_version,omitempty" example:"12.5"`
	UptimeSeconds   uint64 `json:"uptime_seconds,omitempty"`
}

// RegisterRequest is sent once by the agent at startup.
type RegisterRequest struct {
	AgentCredentials
	AgentVersion string  `json:"agent_version,omitempty"`
	Hostname     string  `json:"hostname,omitempty"`
	OSInfo       *OSInfo `json:"os_info,omitempty"`
}

// RegisterResponse is the collector's answer to a registration.
type RegisterResponse struct {
	Success      bool   `json:"success"`
	SiteID       int64  `json:"site_id"`
	SiteName     string `json:"site_name"`
	DashboardURL string `json:"dashboard_url"`
	WSChannel    string `json:"ws_channel"`
	Timestamp    string `json:"timestamp"`
}

// Auth types reported in SiteConfigResponse.
const (
	AuthTypeAPIKey = "api_key"
	AuthTypeBasic  = "basic"
)

// SiteConfigResponse carries the site's BackupPC settings with secrets decrypted.
type SiteConfigResponse struct {
	SiteID           int64  `json:"site_id"`
	BackupPCURL      string `json:"backuppc_url"`
	PollingInterval  int    `json:"polling_interval"`
	BackupPCUsername string `json:"backuppc_username"`
	BackupPCPassword string `json:"backuppc_password"`
	APIKey           string `json:"api_key"`
	AuthType         string `json:"auth_type"`
}
