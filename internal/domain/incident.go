package domain

import "time"

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses. Resolved is terminal.
const (
	IncidentStatusOpen         IncidentStatus = "open"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// IsTerminal reports whether the status ends the incident lifecycle.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved
}

// IsActionable reports whether escalation should still act on an incident
// with this status. Acknowledged incidents are parked, not escalated.
func (s IncidentStatus) IsActionable() bool {
	return s == IncidentStatusOpen
}

// Priority classifies the urgency of an incident.
type Priority string

// Priorities, highest first.
const (
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
	PriorityP4 Priority = "p4"
)

// IsValid checks if the priority is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

// PriorityClass selects the per-user notification preference set.
type PriorityClass string

// Priority classes.
const (
	PriorityClassLow  PriorityClass = "low"
	PriorityClassHigh PriorityClass = "high"
)

// Class maps a priority to its preference class. Only the lowest priority
// is treated as low; everything else pages on the high-priority channels.
func (p Priority) Class() PriorityClass {
	if p == PriorityP4 {
		return PriorityClassLow
	}
	return PriorityClassHigh
}

// Incident is an ongoing or past failure record for a service.
// At most one non-terminal incident exists per service at any time.
type Incident struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"service_id"`
	Title     string         `json:"title"`
	Priority  Priority       `json:"priority"`
	Status    IncidentStatus `json:"status"`

	// EscalationLevel is the current rung of the escalation walk.
	// Level 0 means "on-call only"; assignments are 1-based.
	EscalationLevel int `json:"escalation_level"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AckedAt    *time.Time `json:"acked_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
