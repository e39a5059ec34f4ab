package agent

import (
	"sort"

	"github.com/MacJediWizard/bpcmon/pkg/models"
)

// Snapshot holds the host states seen in the last successful fetch.
// It lives in memory only, so the first cycle after a restart is always a full_update.
type Snapshot struct {
	states map[string]string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{states: map[string]string{}}
}

// Diff compares doc with the snapshot. Hosts not seen before are never changes.
// Changes are sorted by host name.
func (s *Snapshot) Diff(doc *models.MetricsDocument) []models.HostChange {
	if doc == nil {
		return nil
	}
	var changes []models.HostChange
	for host, state := range doc.HostStates() {
		prev, seen := s.states[host]
		if !seen || prev == state {
			continue
		}
		old := prev
		changes = append(changes, models.HostChange{Host: host, OldStatus: &old, NewStatus: state})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Host < changes[j].Host })
	return changes
}

// Replace sets the snapshot to the states in doc, dropping hosts no longer present.
func (s *Snapshot) Replace(doc *models.MetricsDocument) {
	if doc == nil {
		s.states = map[string]string{}
		return
	}
	s.states = doc.HostStates()
}

// Classify builds the push for doc from the detected changes.
func Classify(doc *models.MetricsDocument, changes []models.HostChange) models.DataPushRequest {
	push := models.DataPushRequest{
		Data:      doc,
		EventType: models.EventFullUpdate,
	}
	if len(changes) == 0 {
		return push
	}
	push.EventType = models.EventStatusChange
	push.Changes = changes
	if len(changes) == 1 {
		push.HostName = changes[0].Host
		push.OldStatus = changes[0].OldStatus
	}
	return push
}
