package models

import (
	"time"

	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
)

// SiteEventType identifies an event published to site subscribers.
type SiteEventType string

const (
	// EventDataUpdated is published after a full_update push is stored.
	EventDataUpdated SiteEventType = "backup.data_updated"
	// EventStatusChanged is published once per host whose state changed.
	EventStatusChanged SiteEventType = "backup.status_changed"
	// EventAgentCommand is published when an operator dispatches a command.
	EventAgentCommand SiteEventType = "agent.command"
)

// SiteEvent is the envelope delivered to notification channels.
type SiteEvent struct {
	Type    SiteEventType `json:"event"`
	Channel string        `json:"channel"`
	Data    any           `json:"data"`
}

// DataUpdatedEvent carries the whole stored document.
type DataUpdatedEvent struct {
	SiteID    int64                      `json:"site_id"`
	Data      *pkgmodels.MetricsDocument `json:"data"`
	Timestamp string                     `json:"timestamp"`
}

// StatusChangedEvent describes a single host transition. OldStatus is null when
// the agent did not report a previous state.
type StatusChangedEvent struct {
	SiteID    int64          `json:"site_id"`
	HostName  string         `json:"host_name"`
	OldStatus *string        `json:"old_status"`
	NewStatus string         `json:"new_status"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// AgentCommandEvent mirrors a dispatched command for realtime listeners.
type AgentCommandEvent struct {
	SiteID    int64          `json:"site_id"`
	Command   CommandKind    `json:"command"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

// NewDataUpdated builds the site event for a stored full_update.
func NewDataUpdated(siteID int64, doc *pkgmodels.MetricsDocument, now time.Time) SiteEvent {
	return SiteEvent{
		Type:    EventDataUpdated,
		Channel: SiteChannel(siteID),
		Data: DataUpdatedEvent{
			SiteID:    siteID,
			Data:      doc,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
}

// NewStatusChanged builds the site event for one host transition.
func NewStatusChanged(siteID int64, host string, oldStatus *string, newStatus string, details map[string]any, now time.Time) SiteEvent {
	return SiteEvent{
		Type:    EventStatusChanged,
		Channel: SiteChannel(siteID),
		Data: StatusChangedEvent{
			SiteID:    siteID,
			HostName:  host,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Details:   details,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
}

// NewAgentCommand builds the event published on the agent channel at dispatch.
func NewAgentCommand(siteID int64, cmd PendingCommand) SiteEvent {
	return SiteEvent{
		Type:    EventAgentCommand,
		Channel: AgentChannel(siteID),
		Data: AgentCommandEvent{
			SiteID:    siteID,
			Command:   cmd.Kind,
			Payload:   cmd.Payload,
			Timestamp: cmd.IssuedAt.UTC().Format(time.RFC3339),
		},
	}
}
