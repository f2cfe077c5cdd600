// Package postgres provides the PostgreSQL storage layer shared by the
// check scheduler, incident manager, escalation engine, and notification
// dispatcher.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/watchover/watchover/internal/check"
	"github.com/watchover/watchover/internal/domain"
)

// Repository implements the storage interfaces of the feature packages
// against one pgx pool.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const serviceColumns = `
	id, name, team_id, COALESCE(policy_id::text, ''), calendar_url, priority, is_active,
	maintenance_starts_at, maintenance_ends_at, created_at, updated_at
`

func scanService(row pgx.Row) (*domain.Service, error) {
	var (
		svc              domain.Service
		maintenanceStart *time.Time
		maintenanceEnd   *time.Time
	)
	err := row.Scan(
		&svc.ID,
		&svc.Name,
		&svc.TeamID,
		&svc.PolicyID,
		&svc.CalendarURL,
		&svc.Priority,
		&svc.IsActive,
		&maintenanceStart,
		&maintenanceEnd,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if maintenanceStart != nil || maintenanceEnd != nil {
		svc.Maintenance = &domain.MaintenanceWindow{
			StartsAt: maintenanceStart,
			EndsAt:   maintenanceEnd,
		}
	}
	return &svc, nil
}

// FindActiveServices returns every active service.
func (r *Repository) FindActiveServices(ctx context.Context) ([]domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE is_active ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find active services: %w", err)
	}
	defer rows.Close()

	var services []domain.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, *svc)
	}
	return services, rows.Err()
}

const targetColumns = `
	id, service_id, name, kind, url, hostname, port, regex,
	interval_seconds, timeout_seconds, confirmation_seconds, recovery_seconds,
	ssl_expiry_days, heartbeat_seconds, heartbeat_token, request, is_active,
	created_at, updated_at
`

func scanTarget(row pgx.Row) (*domain.MonitoredTarget, error) {
	var (
		t                   domain.MonitoredTarget
		timeoutSeconds      int
		confirmationSeconds int
		recoverySeconds     int
		heartbeatSeconds    int
	)
	err := row.Scan(
		&t.ID,
		&t.ServiceID,
		&t.Name,
		&t.Kind,
		&t.URL,
		&t.Hostname,
		&t.Port,
		&t.Regex,
		&t.IntervalSeconds,
		&timeoutSeconds,
		&confirmationSeconds,
		&recoverySeconds,
		&t.SSLExpiryDays,
		&heartbeatSeconds,
		&t.HeartbeatToken,
		&t.Request,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	t.ConfirmationPeriod = time.Duration(confirmationSeconds) * time.Second
	t.RecoveryPeriod = time.Duration(recoverySeconds) * time.Second
	t.HeartbeatPeriod = time.Duration(heartbeatSeconds) * time.Second
	return &t, nil
}

// FindTargets returns the active targets of one service configured at the
// given check interval.
func (r *Repository) FindTargets(ctx context.Context, serviceID string, intervalSeconds int) ([]domain.MonitoredTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE service_id = $1 AND interval_seconds = $2 AND is_active
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, serviceID, intervalSeconds)
	if err != nil {
		return nil, fmt.Errorf("find targets: %w", err)
	}
	defer rows.Close()

	var targets []domain.MonitoredTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// BulkInsertResults persists one tick's worth of check results in a single
// COPY round trip.
func (r *Repository) BulkInsertResults(ctx context.Context, results []domain.CheckResult) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(results))
	for _, res := range results {
		rows = append(rows, []any{
			res.TargetID,
			res.ServiceID,
			string(res.Status),
			res.ResponseTime.Milliseconds(),
			res.Message,
			res.ResponseBody,
			res.CheckedAt,
		})
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"check_results"},
		[]string{"target_id", "service_id", "status", "response_time_ms", "message", "response_body", "checked_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy check results: %w", err)
	}
	return nil
}

// FindHeartbeatStates returns every active heartbeat target joined with its
// last recorded pulse.
func (r *Repository) FindHeartbeatStates(ctx context.Context) ([]check.HeartbeatState, error) {
	query := `
		SELECT ` + targetColumns + `, hp.last_pulse
		FROM targets
		LEFT JOIN heartbeat_pulses hp ON hp.target_id = targets.id
		WHERE kind = 'heartbeat' AND is_active
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find heartbeat states: %w", err)
	}
	defer rows.Close()

	var states []check.HeartbeatState
	for rows.Next() {
		var (
			t                   domain.MonitoredTarget
			timeoutSeconds      int
			confirmationSeconds int
			recoverySeconds     int
			heartbeatSeconds    int
			lastPulse           *time.Time
		)
		err := rows.Scan(
			&t.ID, &t.ServiceID, &t.Name, &t.Kind, &t.URL, &t.Hostname, &t.Port, &t.Regex,
			&t.IntervalSeconds, &timeoutSeconds, &confirmationSeconds, &recoverySeconds,
			&t.SSLExpiryDays, &heartbeatSeconds, &t.HeartbeatToken, &t.Request, &t.IsActive,
			&t.CreatedAt, &t.UpdatedAt,
			&lastPulse,
		)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat state: %w", err)
		}
		t.Timeout = time.Duration(timeoutSeconds) * time.Second
		t.ConfirmationPeriod = time.Duration(confirmationSeconds) * time.Second
		t.RecoveryPeriod = time.Duration(recoverySeconds) * time.Second
		t.HeartbeatPeriod = time.Duration(heartbeatSeconds) * time.Second

		states = append(states, check.HeartbeatState{Target: t, LastPulse: lastPulse})
	}
	return states, rows.Err()
}

// RecordPulse stores a pulse for the heartbeat target identified by token
// and returns the target. Unknown or inactive tokens are an error.
func (r *Repository) RecordPulse(ctx context.Context, token string, at time.Time) (*domain.MonitoredTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE heartbeat_token = $1 AND kind = 'heartbeat' AND is_active
	`
	target, err := scanTarget(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("heartbeat token not registered")
		}
		return nil, fmt.Errorf("find heartbeat target: %w", err)
	}

	upsert := `
		INSERT INTO heartbeat_pulses (target_id, last_pulse)
		VALUES ($1, $2)
		ON CONFLICT (target_id) DO UPDATE SET last_pulse = EXCLUDED.last_pulse
	`
	if _, err := r.db.Exec(ctx, upsert, target.ID, at.UTC()); err != nil {
		return nil, fmt.Errorf("record pulse: %w", err)
	}
	return target, nil
}

// GetService retrieves one service by id.
func (r *Repository) GetService(ctx context.Context, id string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`

	svc, err := scanService(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("service %s not found", id)
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}
