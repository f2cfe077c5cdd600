// Package notify delivers incident notifications through the channels a
// user has enabled for the incident's priority class.
package notify

import (
	"context"

	"github.com/watchover/watchover/internal/domain"
)

// Notification is a rendered message addressed to one delivery target.
// The meaning of To depends on the channel: an email address, a phone
// number, or a webhook URL.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
