package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchover/watchover/internal/domain"
)

type fakePrefsRepo struct {
	prefs map[string]*domain.NotificationPreferences
}

func (f *fakePrefsRepo) GetPreferences(_ context.Context, userID string) (*domain.NotificationPreferences, error) {
	p, ok := f.prefs[userID]
	if !ok {
		return nil, ErrNoPreferences
	}
	return p, nil
}

type fakeSender struct {
	channel domain.ChannelType
	sent    []Notification
	err     error
}

func (f *fakeSender) Type() domain.ChannelType { return f.channel }

func (f *fakeSender) Send(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func testIncident() *domain.Incident {
	return &domain.Incident{
		ID:        "inc-1",
		ServiceID: "svc-1",
		Title:     "api is down",
		Priority:  domain.PriorityP1,
		Status:    domain.IncidentStatusOpen,
		CreatedAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
}

func testDispatcher(t *testing.T, repo Repository, senders ...Sender) *Dispatcher {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return NewDispatcher(repo, renderer, senders...)
}

func TestNotifyFansOutOverEnabledChannels(t *testing.T) {
	repo := &fakePrefsRepo{prefs: map[string]*domain.NotificationPreferences{
		"user-1": {
			UserID:              "user-1",
			EmailHighPriority:   true,
			PhoneHighPriority:   true,
			WebhookHighPriority: true,
			WebhookURL:          "https://hooks.example.com/x",
		},
	}}
	email := &fakeSender{channel: domain.ChannelTypeEmail}
	sms := &fakeSender{channel: domain.ChannelTypeSMS}
	hook := &fakeSender{channel: domain.ChannelTypeWebhook}
	d := testDispatcher(t, repo, email, sms, hook)

	user := &domain.User{ID: "user-1", Email: "a@example.com", Phone: "+15550100"}
	err := d.Notify(context.Background(), user, testIncident(), domain.PriorityP1)
	require.NoError(t, err)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "a@example.com", email.sent[0].To)
	assert.Equal(t, "[P1] api is down", email.sent[0].Subject)

	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+15550100", sms.sent[0].To)

	require.Len(t, hook.sent, 1)
	assert.Equal(t, "https://hooks.example.com/x", hook.sent[0].To)
}

func TestNotifyRespectsPriorityClass(t *testing.T) {
	// email only for high, sms only for low
	repo := &fakePrefsRepo{prefs: map[string]*domain.NotificationPreferences{
		"user-1": {
			UserID:            "user-1",
			EmailHighPriority: true,
			PhoneLowPriority:  true,
		},
	}}
	email := &fakeSender{channel: domain.ChannelTypeEmail}
	sms := &fakeSender{channel: domain.ChannelTypeSMS}
	d := testDispatcher(t, repo, email, sms)

	user := &domain.User{ID: "user-1", Email: "a@example.com", Phone: "+15550100"}

	require.NoError(t, d.Notify(context.Background(), user, testIncident(), domain.PriorityP1))
	assert.Len(t, email.sent, 1)
	assert.Empty(t, sms.sent)

	require.NoError(t, d.Notify(context.Background(), user, testIncident(), domain.PriorityP4))
	assert.Len(t, email.sent, 1)
	assert.Len(t, sms.sent, 1)
}

func TestNotifyFallsBackToEmailWithoutPreferences(t *testing.T) {
	repo := &fakePrefsRepo{prefs: map[string]*domain.NotificationPreferences{}}
	email := &fakeSender{channel: domain.ChannelTypeEmail}
	d := testDispatcher(t, repo, email)

	user := &domain.User{ID: "user-1", Email: "a@example.com"}
	err := d.Notify(context.Background(), user, testIncident(), domain.PriorityP2)
	require.NoError(t, err)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "a@example.com", email.sent[0].To)
}

func TestNotifySkipsChannelsWithoutTarget(t *testing.T) {
	repo := &fakePrefsRepo{prefs: map[string]*domain.NotificationPreferences{
		"user-1": {
			UserID:            "user-1",
			EmailHighPriority: true,
			PhoneHighPriority: true, // enabled, but the user has no phone
		},
	}}
	email := &fakeSender{channel: domain.ChannelTypeEmail}
	sms := &fakeSender{channel: domain.ChannelTypeSMS}
	d := testDispatcher(t, repo, email, sms)

	user := &domain.User{ID: "user-1", Email: "a@example.com"}
	require.NoError(t, d.Notify(context.Background(), user, testIncident(), domain.PriorityP1))

	assert.Len(t, email.sent, 1)
	assert.Empty(t, sms.sent)
}

func TestNotifyChannelFailuresAreIndependent(t *testing.T) {
	repo := &fakePrefsRepo{prefs: map[string]*domain.NotificationPreferences{
		"user-1": {
			UserID:            "user-1",
			EmailHighPriority: true,
			PhoneHighPriority: true,
		},
	}}
	email := &fakeSender{channel: domain.ChannelTypeEmail, err: errors.New("smtp down")}
	sms := &fakeSender{channel: domain.ChannelTypeSMS}
	d := testDispatcher(t, repo, email, sms)

	user := &domain.User{ID: "user-1", Email: "a@example.com", Phone: "+15550100"}
	err := d.Notify(context.Background(), user, testIncident(), domain.PriorityP1)
	require.NoError(t, err)

	// the sms channel still got its delivery
	assert.Len(t, sms.sent, 1)
}

func TestNotifyAddressRequiresEmail(t *testing.T) {
	d := testDispatcher(t, &fakePrefsRepo{})

	err := d.NotifyAddress(context.Background(), "", testIncident())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestNotifyWebhookDelivers(t *testing.T) {
	hook := &fakeSender{channel: domain.ChannelTypeWebhook}
	d := testDispatcher(t, &fakePrefsRepo{}, hook)

	err := d.NotifyWebhook(context.Background(), "https://hooks.example.com/y", testIncident())
	require.NoError(t, err)

	require.Len(t, hook.sent, 1)
	assert.Equal(t, "https://hooks.example.com/y", hook.sent[0].To)
}
