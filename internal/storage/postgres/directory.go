package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/escalation"
	"github.com/watchover/watchover/internal/notify"
)

// GetUser retrieves one user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, phone, created_at FROM users WHERE id = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Email, &user.Phone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves one user by email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, phone, created_at FROM users WHERE email = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.Phone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Phone, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetGroupMembers returns the users of one group.
func (r *Repository) GetGroupMembers(ctx context.Context, groupID string) ([]domain.User, error) {
	query := `
		SELECT u.id, u.email, u.phone, u.created_at
		FROM users u
		JOIN user_group_members m ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY u.email
	`
	users, err := r.queryUsers(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	return users, nil
}

// GetTeamMembers returns the users of one team.
func (r *Repository) GetTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	query := `
		SELECT u.id, u.email, u.phone, u.created_at
		FROM users u
		JOIN team_members m ON m.user_id = u.id
		WHERE m.team_id = $1
		ORDER BY u.email
	`
	users, err := r.queryUsers(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("get team members: %w", err)
	}
	return users, nil
}

// GetWebhook retrieves one registered webhook by id.
func (r *Repository) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	query := `SELECT id, name, url FROM webhooks WHERE id = $1`

	var hook domain.Webhook
	err := r.db.QueryRow(ctx, query, id).Scan(&hook.ID, &hook.Name, &hook.URL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &hook, nil
}

// GetPreferences retrieves a user's notification preferences.
func (r *Repository) GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	query := `
		SELECT user_id,
		       email_low_priority, email_high_priority,
		       phone_low_priority, phone_high_priority,
		       webhook_low_priority, webhook_high_priority,
		       webhook_url
		FROM notification_preferences
		WHERE user_id = $1
	`
	var prefs domain.NotificationPreferences
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&prefs.UserID,
		&prefs.EmailLowPriority,
		&prefs.EmailHighPriority,
		&prefs.PhoneLowPriority,
		&prefs.PhoneHighPriority,
		&prefs.WebhookLowPriority,
		&prefs.WebhookHighPriority,
		&prefs.WebhookURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notify.ErrNoPreferences
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &prefs, nil
}
