//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/watchover/watchover/internal/domain"
)

func exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := testDB.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func createTeam(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	exec(t, `INSERT INTO teams (id, name) VALUES ($1, $2)`, id, name)
	return id
}

func createUser(t *testing.T, email string) string {
	t.Helper()
	id := uuid.NewString()
	exec(t, `INSERT INTO users (id, email) VALUES ($1, $2)`, id, email)
	return id
}

func addTeamMember(t *testing.T, teamID, userID string) {
	t.Helper()
	exec(t, `INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, teamID, userID)
}

func setEmailPreferences(t *testing.T, userID string) {
	t.Helper()
	exec(t, `
		INSERT INTO notification_preferences (user_id, email_low_priority, email_high_priority)
		VALUES ($1, true, true)
	`, userID)
}

func createPolicy(t *testing.T, name string, notifyAll bool, defaultDelay time.Duration) string {
	t.Helper()
	id := uuid.NewString()
	exec(t, `
		INSERT INTO escalation_policies (id, name, notify_all, default_delay_seconds)
		VALUES ($1, $2, $3, $4)
	`, id, name, notifyAll, int(defaultDelay.Seconds()))
	return id
}

func createLevel(t *testing.T, name string, repeat int, delay time.Duration) string {
	t.Helper()
	id := uuid.NewString()
	exec(t, `
		INSERT INTO escalation_levels (id, name, repeat_count, delay_seconds)
		VALUES ($1, $2, $3, $4)
	`, id, name, repeat, int(delay.Seconds()))
	return id
}

func assignLevel(t *testing.T, policyID, levelID string, number int) {
	t.Helper()
	exec(t, `
		INSERT INTO escalation_level_assignments (id, policy_id, level_id, level_number)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), policyID, levelID, number)
}

func createUserAction(t *testing.T, levelID, userID string) {
	t.Helper()
	exec(t, `
		INSERT INTO escalation_actions (id, level_id, name, target_kind, target_id)
		VALUES ($1, $2, 'page user', 'user', $3)
	`, uuid.NewString(), levelID, userID)
}

type serviceOpts struct {
	policyID    string
	priority    domain.Priority
	calendarURL string
}

func createService(t *testing.T, teamID, name string, opts serviceOpts) string {
	t.Helper()
	if opts.priority == "" {
		opts.priority = domain.PriorityP3
	}
	id := uuid.NewString()
	var policyID *string
	if opts.policyID != "" {
		policyID = &opts.policyID
	}
	exec(t, `
		INSERT INTO services (id, name, team_id, policy_id, calendar_url, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, name, teamID, policyID, opts.calendarURL, string(opts.priority))
	return id
}

func createHeartbeatTarget(t *testing.T, serviceID, token string, period time.Duration) string {
	t.Helper()
	id := uuid.NewString()
	exec(t, `
		INSERT INTO targets (id, service_id, name, kind, interval_seconds, heartbeat_seconds, heartbeat_token)
		VALUES ($1, $2, 'cron job', 'heartbeat', 60, $3, $4)
	`, id, serviceID, int(period.Seconds()), token)
	return id
}

func createOpenIncident(t *testing.T, serviceID, title string, priority domain.Priority) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	exec(t, `
		INSERT INTO incidents (id, service_id, title, priority, status, escalation_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'open', 0, $5, $5)
	`, id, serviceID, title, string(priority), now)
	return id
}
