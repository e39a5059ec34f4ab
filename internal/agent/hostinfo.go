package agent

import (
	"context"
	"os"

	"github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/shirou/gopsutil/v3/host"
)

// CollectOSInfo gathers operating system details for registration.
// It returns nil when the platform cannot be queried.
func CollectOSInfo(ctx context.Context) *models.OSInfo {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil
	}
	return &models.OSInfo{
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		UptimeSeconds:   info.Uptime,
	}
}

// Hostname returns the machine hostname, or "unknown".
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
