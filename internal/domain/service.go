package domain

import "time"

// MaintenanceWindow is a time range during which incident creation is
// suppressed for a service. A nil bound leaves that side open.
type MaintenanceWindow struct {
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w *MaintenanceWindow) Contains(t time.Time) bool {
	if w == nil {
		return false
	}
	if w.StartsAt != nil && t.Before(*w.StartsAt) {
		return false
	}
	if w.EndsAt != nil && t.After(*w.EndsAt) {
		return false
	}
	return true
}

// Service groups monitored targets under one escalation policy, one team
// and one on-call calendar.
type Service struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TeamID      string   `json:"team_id"`
	PolicyID    string   `json:"policy_id"`
	CalendarURL string   `json:"calendar_url,omitempty"`
	Priority    Priority `json:"priority"`
	IsActive    bool     `json:"is_active"`

	Maintenance *MaintenanceWindow `json:"maintenance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InMaintenance reports whether the service's maintenance window covers t.
func (s *Service) InMaintenance(t time.Time) bool {
	return s.Maintenance.Contains(t)
}
