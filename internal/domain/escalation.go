package domain

import "time"

// EscalationPolicy is an ordered notification configuration attached to
// a service through its levels.
type EscalationPolicy struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// MaxLevel is the count of attached levels. A walk past MaxLevel
	// either broadcasts to the whole team (NotifyAll) or stops silently.
	MaxLevel  int  `json:"max_level"`
	NotifyAll bool `json:"notify_all"`

	// DefaultDelay schedules the first advance when the policy has no
	// levels to derive a delay from.
	DefaultDelay time.Duration `json:"default_delay"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EscalationLevel is one rung of a policy.
type EscalationLevel struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Repeat is how many times the level's actions are re-run before
	// the walk advances to the next level.
	Repeat int `json:"repeat"`

	// Delay is how long to wait before the next advance while sitting
	// on this level.
	Delay time.Duration `json:"delay"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EscalationLevelAssignment attaches a level to a policy at a 1-based
// position. Positions are unique and contiguous per policy and assigned
// append-only at attach time.
type EscalationLevelAssignment struct {
	ID          string `json:"id"`
	PolicyID    string `json:"policy_id"`
	LevelID     string `json:"level_id"`
	LevelNumber int    `json:"level_number"`

	Level *EscalationLevel `json:"level,omitempty"`
}

// ActionTargetKind discriminates the entity an escalation action points at.
type ActionTargetKind string

// Action target kinds.
const (
	ActionTargetUser      ActionTargetKind = "user"
	ActionTargetUserGroup ActionTargetKind = "user_group"
	ActionTargetWebhook   ActionTargetKind = "webhook"
)

// IsValid checks if the action target kind is valid.
func (k ActionTargetKind) IsValid() bool {
	switch k {
	case ActionTargetUser, ActionTargetUserGroup, ActionTargetWebhook:
		return true
	}
	return false
}

// ActionTarget is a tagged reference to the entity an action notifies.
type ActionTarget struct {
	Kind ActionTargetKind `json:"kind"`
	ID   string           `json:"id"`
}

// EscalationAction is a single notification directive within a level.
type EscalationAction struct {
	ID      string       `json:"id"`
	LevelID string       `json:"level_id"`
	Name    string       `json:"name"`
	Target  ActionTarget `json:"target"`
}
