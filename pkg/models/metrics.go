package models

import (
	"encoding/json"
	"math"
	"strconv"
)

// EventType classifies a push from the agent.
type EventType string

const (
	// EventFullUpdate is a push with no host state transitions since the last one.
	EventFullUpdate EventType = "full_update"
	// EventStatusChange is a push in which at least one host changed state.
	EventStatusChange EventType = "status_change"
	// EventHeartbeat is a liveness ping carrying only a timestamp.
	EventHeartbeat EventType = "heartbeat"
)

// UnknownState is used for hosts whose document entry has no state.
const UnknownState = "unknown"

// MetricsDocument is the metrics payload produced by BackupPC and pushed by the agent.
type MetricsDocument struct {
	Server map[string]any         `json:"server,omitempty"`
	Hosts  map[string]HostMetrics `json:"hosts,omitempty"`
	Disk   map[string]any         `json:"disk,omitempty"`
	CPool  map[string]any         `json:"cpool,omitempty"`

	// HostName and State are set when a push targets a single host.
	HostName string `json:"host_name,omitempty"`
	State    string `json:"state,omitempty"`

	// Type and Timestamp are set on heartbeat pushes.
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// HostStates returns the state of every host in the document, defaulting to UnknownState.
func (d *MetricsDocument) HostStates() map[string]string {
	states := make(map[string]string, len(d.Hosts))
	for name, h := range d.Hosts {
		states[name] = h.StateOrUnknown()
	}
	return states
}

// HostMetrics is one host entry of a MetricsDocument. Raw keeps the entry exactly
// as received so fields this type does not model survive a round trip.
type HostMetrics struct {
	State     string
	FullCount int
	IncrCount int
	FullAge   int64
	IncrAge   int64
	FullSize  int64
	Error     string
	Disabled  bool
	Raw       map[string]any
}

// StateOrUnknown returns the host state, or UnknownState when empty.
func (h HostMetrics) StateOrUnknown() string {
	if h.State == "" {
		return UnknownState
	}
	return h.State
}

// UnmarshalJSON decodes a host entry, tolerating numbers encoded as strings or floats.
func (h *HostMetrics) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = HostMetrics{Raw: raw}
	if s, ok := raw["state"].(string); ok {
		h.State = s
	}
	h.FullCount = int(intField(raw, "full_count"))
	h.IncrCount = int(intField(raw, "incr_count"))
	h.FullAge = intField(raw, "full_age")
	h.IncrAge = intField(raw, "incr_age")
	h.FullSize = intField(raw, "full_size")
	if s, ok := raw["error"].(string); ok {
		h.Error = s
	}
	h.Disabled = boolField(raw, "disabled")
	return nil
}

// MarshalJSON encodes the raw entry with the modeled fields laid over it.
func (h HostMetrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Raw)+8)
	for k, v := range h.Raw {
		out[k] = v
	}
	if h.State != "" {
		out["state"] = h.State
	}
	setNonZero(out, "full_count", int64(h.FullCount))
	setNonZero(out, "incr_count", int64(h.IncrCount))
	setNonZero(out, "full_age", h.FullAge)
	setNonZero(out, "incr_age", h.IncrAge)
	setNonZero(out, "full_size", h.FullSize)
	if h.Error != "" {
		out["error"] = h.Error
	}
	if h.Disabled {
		out["disabled"] = true
	}
	return json.Marshal(out)
}

func setNonZero(m map[string]any, key string, v int64) {
	if v != 0 {
		m[key] = v
	}
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return int64(n)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

// HostChange describes one host state transition detected by the agent.
type HostChange struct {
	Host      string  `json:"host"`
	OldStatus *string `json:"old_status"`
	NewStatus string  `json:"new_status"`
}

// DataPushRequest is the body of POST /api/agent/data.
type DataPushRequest struct {
	AgentCredentials
	Data      *MetricsDocument `json:"data" binding:"required"`
	EventType EventType        `json:"event_type,omitempty" binding:"omitempty,oneof=full_update status_change heartbeat"`
	HostName  string           `json:"host_name,omitempty"`
	OldStatus *string          `json:"old_status,omitempty"`
	Changes   []HostChange     `json:"changes,omitempty"`
}

// DataPushResponse is the collector's answer to a push.
type DataPushResponse struct {
	Success   bool   `json:"success"`
	SiteID    int64  `json:"site_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
