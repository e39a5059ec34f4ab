package models

// CommandKind represents the kind of command an operator can send to an agent.
type CommandKind string

const (
	// CommandRefresh triggers an immediate fetch and push cycle.
	CommandRefresh CommandKind = "refresh"
	// CommandStatus triggers an immediate heartbeat.
	CommandStatus CommandKind = "status"
	// CommandRestart makes the agent respawn itself.
	CommandRestart CommandKind = "restart"
	// CommandStop makes the agent shut down gracefully.
	CommandStop CommandKind = "stop"
)

// ValidCommandKinds lists the command kinds accepted by the dispatch API.
var ValidCommandKinds = []CommandKind{CommandRefresh, CommandStatus, CommandRestart, CommandStop}

// IsValid reports whether the kind is one the dispatch API accepts.
func (k CommandKind) IsValid() bool {
	for _, v := range ValidCommandKinds {
		if k == v {
			return true
		}
	}
	return false
}

// CommandPollResponse is the body returned by the command poll endpoint.
// Command is nil when nothing is pending.
type CommandPollResponse struct {
	Command   *CommandKind   `json:"command"`
	CommandID string         `json:"command_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Acknowledgement values sent by the agent. Every acknowledgement carries these;
// the agent has no failure acknowledgement.
const (
	AckStatusExecuted = "executed"
	AckResultSuccess  = "success"
)

// CommandAckRequest is the acknowledgement an agent sends after executing a command.
type CommandAckRequest struct {
	AgentCredentials
	CommandID string `json:"command_id"`
	Status    string `json:"status" binding:"required"`
	Result    string `json:"result"`
}
