package models

import (
	"time"

	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
)

// CommandKind is a type alias for the shared CommandKind type in pkg/models.
type CommandKind = pkgmodels.CommandKind

// DefaultCommandTTL is how long an undelivered command stays pollable.
const DefaultCommandTTL = 5 * time.Minute

// PendingCommand is the value held in a site's command slot until an agent polls it.
// It has no ID yet; one is assigned at delivery.
type PendingCommand struct {
	Kind     CommandKind    `json:"command"`
	Payload  map[string]any `json:"payload"`
	IssuedAt time.Time      `json:"timestamp"`
}

// NewPendingCommand creates a PendingCommand issued now.
func NewPendingCommand(kind CommandKind, payload map[string]any) PendingCommand {
	if payload == nil {
		payload = map[string]any{}
	}
	return PendingCommand{
		Kind:     kind,
		Payload:  payload,
		IssuedAt: time.Now().UTC(),
	}
}

// DeliveredCommand is a command handed to an agent by a poll.
type DeliveredCommand struct {
	ID string `json:"command_id"`
	PendingCommand
}

// PollResponse converts the delivered command to its wire form.
func (d *DeliveredCommand) PollResponse() pkgmodels.CommandPollResponse {
	kind := d.Kind
	payload := d.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return pkgmodels.CommandPollResponse{
		Command:   &kind,
		CommandID: d.ID,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
