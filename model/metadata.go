// model/metadata.go
package model

import "time"

// EntityID identifies a twin entity, e.g. "org.example:sensor-1".
type EntityID string

// EventType classifies an entity change event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is one element of an entity's change history.
type Event struct {
	Type      EventType      `json:"type"`
	Revision  int64          `json:"revision"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Metadata describes one changed entity in the search-update stream: which
// entity changed, the events behind the change, which policies the change
// references and whether caches must be refreshed before recomputation.
type Metadata struct {
	EntityID       EntityID
	EntityRevision int64
	Events         []Event

	// PolicyTags are all policy revisions referenced by the change set.
	PolicyTags []PolicyTag

	// CausingPolicyTag is set when a policy change triggered this
	// recomputation, e.g. a modified policy imported by many entities.
	CausingPolicyTag *PolicyTag

	// InvalidateEntity forces a full refetch of the entity projection.
	InvalidateEntity bool

	// InvalidatePolicy forces a reload of the governing enforcer.
	InvalidatePolicy bool
}

// LatestEvent returns the event with the most recent timestamp, or nil if
// there are no events.
func (m Metadata) LatestEvent() *Event {
	var latest *Event
	for i := range m.Events {
		if latest == nil || m.Events[i].Timestamp.After(latest.Timestamp) {
			latest = &m.Events[i]
		}
	}
	return latest
}

// ReferencedRevision returns the revision the change set references for the
// given policy, or ok=false when the policy is not referenced.
func (m Metadata) ReferencedRevision(id PolicyID) (int64, bool) {
	for _, tag := range m.PolicyTags {
		if tag.ID == id {
			return tag.Revision, true
		}
	}
	return 0, false
}
