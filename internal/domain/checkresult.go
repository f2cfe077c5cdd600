package domain

import "time"

// CheckStatus is the outcome of a single check.
type CheckStatus string

// Check statuses.
const (
	CheckStatusUp   CheckStatus = "up"
	CheckStatusDown CheckStatus = "down"
)

// CheckResult is one evaluation of a monitored target.
// Results are append-only and never mutated once recorded.
type CheckResult struct {
	ID           string        `json:"id"`
	TargetID     string        `json:"target_id"`
	ServiceID    string        `json:"service_id"`
	Status       CheckStatus   `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Message      string        `json:"message"`
	ResponseBody string        `json:"response_body,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}
