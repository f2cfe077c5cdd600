package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/pkg/metrics"
)

// ErrNoPreferences is returned by repositories when a user has no stored
// notification preferences.
var ErrNoPreferences = errors.New("notification preferences not found")

// Repository is the storage surface the dispatcher consumes.
type Repository interface {
	GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
}

// Dispatcher fans one incident notification out over every channel the
// recipient has enabled for the incident's priority class. Channels fail
// independently: one broken channel never blocks the others.
type Dispatcher struct {
	repo     Repository
	renderer *Renderer
	senders  map[domain.ChannelType]Sender
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(repo Repository, renderer *Renderer, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		repo:     repo,
		renderer: renderer,
		senders:  senderMap,
	}
}

// Notify delivers the incident to a user through every channel enabled
// for the given priority's class. A user without stored preferences
// falls back to a plain email.
func (d *Dispatcher) Notify(ctx context.Context, user *domain.User, inc *domain.Incident, priority domain.Priority) error {
	prefs, err := d.repo.GetPreferences(ctx, user.ID)
	if errors.Is(err, ErrNoPreferences) {
		slog.Debug("no preferences stored, falling back to email", "user_id", user.ID)
		return d.NotifyAddress(ctx, user.Email, inc)
	}
	if err != nil {
		return fmt.Errorf("get preferences: %w", err)
	}

	channels := prefs.ChannelsFor(priority.Class())
	if len(channels) == 0 {
		slog.Debug("all channels disabled for priority class",
			"user_id", user.ID,
			"priority", priority,
		)
		return nil
	}

	data := NewIncidentData(inc)
	for _, channel := range channels {
		target := d.targetFor(channel, user, prefs)
		if target == "" {
			slog.Warn("channel enabled but no target configured",
				"user_id", user.ID,
				"channel", channel,
			)
			continue
		}
		d.send(ctx, channel, target, data)
	}

	return nil
}

// NotifyAddress delivers a plain email to a raw address, bypassing
// preference resolution. Used for on-call identities that may not map to
// a user account.
func (d *Dispatcher) NotifyAddress(ctx context.Context, email string, inc *domain.Incident) error {
	if email == "" {
		return &PermanentError{Message: "empty email address"}
	}
	d.send(ctx, domain.ChannelTypeEmail, email, NewIncidentData(inc))
	return nil
}

// NotifyWebhook delivers the incident to a webhook URL.
func (d *Dispatcher) NotifyWebhook(ctx context.Context, url string, inc *domain.Incident) error {
	if url == "" {
		return &PermanentError{Message: "empty webhook URL"}
	}
	d.send(ctx, domain.ChannelTypeWebhook, url, NewIncidentData(inc))
	return nil
}

// targetFor resolves the delivery address for one channel.
func (d *Dispatcher) targetFor(channel domain.ChannelType, user *domain.User, prefs *domain.NotificationPreferences) string {
	switch channel {
	case domain.ChannelTypeEmail:
		return user.Email
	case domain.ChannelTypeSMS:
		return user.Phone
	case domain.ChannelTypeWebhook:
		return prefs.WebhookURL
	}
	return ""
}

// send renders and delivers over one channel, recording the attempt.
// Failures are logged, not propagated; the caller's remaining channels
// and recipients must still be served.
func (d *Dispatcher) send(ctx context.Context, channel domain.ChannelType, target string, data IncidentData) {
	sender, ok := d.senders[channel]
	if !ok {
		slog.Warn("no sender for channel type", "channel", channel)
		return
	}

	subject, body, err := d.renderer.Render(channel, data)
	if err != nil {
		slog.Error("render notification failed", "channel", channel, "error", err)
		metrics.RecordNotification(string(channel), "render_error", 0)
		return
	}

	start := time.Now()
	err = sender.Send(ctx, Notification{To: target, Subject: subject, Body: body})
	elapsed := time.Since(start)

	if err != nil {
		status := "permanent_error"
		if IsRetryable(err) {
			status = "retryable_error"
		}
		metrics.RecordNotification(string(channel), status, elapsed)
		slog.Error("notification delivery failed",
			"channel", channel,
			"incident_id", data.ID,
			"retryable", IsRetryable(err),
			"error", err,
		)
		return
	}

	metrics.RecordNotification(string(channel), "sent", elapsed)
	slog.Debug("notification sent", "channel", channel, "incident_id", data.ID)
}
