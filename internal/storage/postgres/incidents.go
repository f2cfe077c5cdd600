package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/incident"
)

const incidentColumns = `
	id, service_id, title, priority, status, escalation_level,
	created_at, updated_at, acked_at, resolved_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.ServiceID,
		&inc.Title,
		&inc.Priority,
		&inc.Status,
		&inc.EscalationLevel,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.AckedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// GetIncident retrieves one incident by id.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// GetOpenIncident returns the single non-terminal incident of a service.
func (r *Repository) GetOpenIncident(ctx context.Context, serviceID string) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE service_id = $1 AND status <> 'resolved'
	`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, serviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrNotFound
		}
		return nil, fmt.Errorf("get open incident: %w", err)
	}
	return inc, nil
}

// CreateIncidentIfAbsent inserts the incident unless a non-terminal one
// already exists for the same service. The partial unique index on
// (service_id) WHERE status <> 'resolved' makes the insert conditional
// at the storage level, so concurrent writers cannot both succeed.
func (r *Repository) CreateIncidentIfAbsent(ctx context.Context, inc *domain.Incident) (*domain.Incident, bool, error) {
	query := `
		INSERT INTO incidents (
			id, service_id, title, priority, status, escalation_level,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service_id) WHERE status <> 'resolved' DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		inc.ID,
		inc.ServiceID,
		inc.Title,
		inc.Priority,
		inc.Status,
		inc.EscalationLevel,
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create incident: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return inc, true, nil
	}

	// lost the race: return the incident that won
	existing, err := r.GetOpenIncident(ctx, inc.ServiceID)
	if err != nil {
		return nil, false, fmt.Errorf("load winning incident: %w", err)
	}
	return existing, false, nil
}

// UpdateIncident persists the mutable lifecycle fields of an incident.
func (r *Repository) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE incidents
		SET status = $2, escalation_level = $3, updated_at = $4,
		    acked_at = $5, resolved_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		inc.ID,
		inc.Status,
		inc.EscalationLevel,
		inc.UpdatedAt,
		inc.AckedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrNotFound
	}
	return nil
}

// ListNonTerminalIncidents returns every incident that is not resolved,
// used to resume escalation after a restart.
func (r *Repository) ListNonTerminalIncidents(ctx context.Context) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status <> 'resolved'
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal incidents: %w", err)
	}
	defer rows.Close()

	var incidents []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}
