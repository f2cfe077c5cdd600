package domain

import "time"

// User is a notifiable account. Account management itself is external;
// the engine only reads contact details and preferences.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserGroup is a named collective of users within a team.
type UserGroup struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

// Team owns services and is the broadcast audience when a policy is
// exhausted with notify_all set.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Webhook is a registered outbound endpoint an escalation action can hit.
type Webhook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChannelType is a notification delivery channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeSMS     ChannelType = "sms"
	ChannelTypeWebhook ChannelType = "webhook"
)

// NotificationPreferences holds a user's per-priority-class channel flags
// plus the contact fields the flags point at.
type NotificationPreferences struct {
	UserID string `json:"user_id"`

	EmailLowPriority    bool `json:"email_low_priority"`
	EmailHighPriority   bool `json:"email_high_priority"`
	PhoneLowPriority    bool `json:"phone_low_priority"`
	PhoneHighPriority   bool `json:"phone_high_priority"`
	WebhookLowPriority  bool `json:"webhook_low_priority"`
	WebhookHighPriority bool `json:"webhook_high_priority"`

	WebhookURL string `json:"webhook_url,omitempty"`
}

// ChannelsFor returns the channels enabled for the given priority class.
func (p *NotificationPreferences) ChannelsFor(class PriorityClass) []ChannelType {
	channels := make([]ChannelType, 0, 3)
	if class == PriorityClassLow {
		if p.EmailLowPriority {
			channels = append(channels, ChannelTypeEmail)
		}
		if p.PhoneLowPriority {
			channels = append(channels, ChannelTypeSMS)
		}
		if p.WebhookLowPriority {
			channels = append(channels, ChannelTypeWebhook)
		}
		return channels
	}
	if p.EmailHighPriority {
		channels = append(channels, ChannelTypeEmail)
	}
	if p.PhoneHighPriority {
		channels = append(channels, ChannelTypeSMS)
	}
	if p.WebhookHighPriority {
		channels = append(channels, ChannelTypeWebhook)
	}
	return channels
}
