package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/escalation"
)

// GetEscalationPolicy retrieves a policy with its level count. Services
// without an attached policy carry an empty id.
func (r *Repository) GetEscalationPolicy(ctx context.Context, policyID string) (*domain.EscalationPolicy, error) {
	if policyID == "" {
		return nil, escalation.ErrNotFound
	}
	query := `
		SELECT p.id, p.name, p.notify_all, p.default_delay_seconds,
		       p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM escalation_level_assignments a WHERE a.policy_id = p.id)
		FROM escalation_policies p
		WHERE p.id = $1
	`
	var (
		policy       domain.EscalationPolicy
		delaySeconds int
	)
	err := r.db.QueryRow(ctx, query, policyID).Scan(
		&policy.ID,
		&policy.Name,
		&policy.NotifyAll,
		&delaySeconds,
		&policy.CreatedAt,
		&policy.UpdatedAt,
		&policy.MaxLevel,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("get escalation policy: %w", err)
	}
	policy.DefaultDelay = time.Duration(delaySeconds) * time.Second
	return &policy, nil
}

// GetLevelAssignment retrieves the assignment at one position of a policy,
// with its level populated.
func (r *Repository) GetLevelAssignment(ctx context.Context, policyID string, levelNumber int) (*domain.EscalationLevelAssignment, error) {
	query := `
		SELECT a.id, a.policy_id, a.level_id, a.level_number,
		       l.id, l.name, l.repeat_count, l.delay_seconds, l.created_at, l.updated_at
		FROM escalation_level_assignments a
		JOIN escalation_levels l ON l.id = a.level_id
		WHERE a.policy_id = $1 AND a.level_number = $2
	`
	var (
		assignment   domain.EscalationLevelAssignment
		level        domain.EscalationLevel
		delaySeconds int
	)
	err := r.db.QueryRow(ctx, query, policyID, levelNumber).Scan(
		&assignment.ID,
		&assignment.PolicyID,
		&assignment.LevelID,
		&assignment.LevelNumber,
		&level.ID,
		&level.Name,
		&level.Repeat,
		&delaySeconds,
		&level.CreatedAt,
		&level.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("get level assignment: %w", err)
	}
	level.Delay = time.Duration(delaySeconds) * time.Second
	assignment.Level = &level
	return &assignment, nil
}

// GetActions returns the actions of one level.
func (r *Repository) GetActions(ctx context.Context, levelID string) ([]domain.EscalationAction, error) {
	query := `
		SELECT id, level_id, name, target_kind, target_id
		FROM escalation_actions
		WHERE level_id = $1
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, levelID)
	if err != nil {
		return nil, fmt.Errorf("get actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.EscalationAction
	for rows.Next() {
		var action domain.EscalationAction
		err := rows.Scan(
			&action.ID,
			&action.LevelID,
			&action.Name,
			&action.Target.Kind,
			&action.Target.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// AttachLevel appends a level to a policy at the next free position.
// Numbering happens inside one transaction with the policy's assignment
// rows locked, so concurrent attaches can never produce duplicate or
// discontiguous positions.
func (r *Repository) AttachLevel(ctx context.Context, assignmentID, policyID, levelID string) (*domain.EscalationLevelAssignment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin attach level: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialize attaches per policy: the policy row is the lock, since
	// locking the assignment rows alone cannot block a concurrent first
	// attach on an empty policy
	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM escalation_policies WHERE id = $1 FOR UPDATE`, policyID,
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("lock policy: %w", err)
	}

	var next int
	numberQuery := `
		SELECT COALESCE(MAX(level_number), 0) + 1
		FROM escalation_level_assignments
		WHERE policy_id = $1
	`
	if err := tx.QueryRow(ctx, numberQuery, policyID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next level number: %w", err)
	}

	insert := `
		INSERT INTO escalation_level_assignments (id, policy_id, level_id, level_number)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insert, assignmentID, policyID, levelID, next); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit attach level: %w", err)
	}

	return &domain.EscalationLevelAssignment{
		ID:          assignmentID,
		PolicyID:    policyID,
		LevelID:     levelID,
		LevelNumber: next,
	}, nil
}
