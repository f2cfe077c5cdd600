package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchover/watchover/internal/domain"
)

type fakeRepo struct {
	mu          sync.Mutex
	incidents   map[string]*domain.Incident
	services    map[string]*domain.Service
	policy      *domain.EscalationPolicy
	assignments map[int]*domain.EscalationLevelAssignment
	actions     map[string][]domain.EscalationAction
	users       map[string]*domain.User
	groups      map[string][]domain.User
	teams       map[string][]domain.User
	webhooks    map[string]*domain.Webhook
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		incidents:   make(map[string]*domain.Incident),
		services:    make(map[string]*domain.Service),
		assignments: make(map[int]*domain.EscalationLevelAssignment),
		actions:     make(map[string][]domain.EscalationAction),
		users:       make(map[string]*domain.User),
		groups:      make(map[string][]domain.User),
		teams:       make(map[string][]domain.User),
		webhooks:    make(map[string]*domain.Webhook),
	}
}

func (f *fakeRepo) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (f *fakeRepo) UpdateIncident(_ context.Context, inc *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inc
	f.incidents[inc.ID] = &cp
	return nil
}

func (f *fakeRepo) ListNonTerminalIncidents(_ context.Context) ([]domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Incident
	for _, inc := range f.incidents {
		if !inc.Status.IsTerminal() {
			out = append(out, *inc)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetService(_ context.Context, id string) (*domain.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	return svc, nil
}

func (f *fakeRepo) GetEscalationPolicy(_ context.Context, policyID string) (*domain.EscalationPolicy, error) {
	if f.policy == nil || f.policy.ID != policyID {
		return nil, ErrNotFound
	}
	return f.policy, nil
}

func (f *fakeRepo) GetLevelAssignment(_ context.Context, policyID string, levelNumber int) (*domain.EscalationLevelAssignment, error) {
	a, ok := f.assignments[levelNumber]
	if !ok || a.PolicyID != policyID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) GetActions(_ context.Context, levelID string) ([]domain.EscalationAction, error) {
	return f.actions[levelID], nil
}

func (f *fakeRepo) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) GetGroupMembers(_ context.Context, groupID string) ([]domain.User, error) {
	members, ok := f.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return members, nil
}

func (f *fakeRepo) GetTeamMembers(_ context.Context, teamID string) ([]domain.User, error) {
	members, ok := f.teams[teamID]
	if !ok {
		return nil, ErrNotFound
	}
	return members, nil
}

func (f *fakeRepo) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	hook, ok := f.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return hook, nil
}

type fakeOnCall struct {
	identities []string
	err        error
}

func (f *fakeOnCall) Resolve(_ context.Context, _ string, _ time.Time) ([]string, error) {
	return f.identities, f.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	users     []string
	addresses []string
	webhooks  []string
}

func (f *fakeNotifier) Notify(_ context.Context, user *domain.User, _ *domain.Incident, _ domain.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, user.ID)
	return nil
}

func (f *fakeNotifier) NotifyAddress(_ context.Context, email string, _ *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses = append(f.addresses, email)
	return nil
}

func (f *fakeNotifier) NotifyWebhook(_ context.Context, url string, _ *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, url)
	return nil
}

func (f *fakeNotifier) userNotifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

// fixture wires a two-level policy: level one pages the primary user,
// level two pages the whole group. Delays are long enough that timers
// never fire during a test; advances are driven explicitly.
func fixture(t *testing.T) (*Engine, *fakeRepo, *fakeNotifier, *domain.Incident, *domain.Service) {
	t.Helper()

	repo := newFakeRepo()
	repo.policy = &domain.EscalationPolicy{
		ID:           "policy-1",
		Name:         "default",
		MaxLevel:     2,
		NotifyAll:    true,
		DefaultDelay: time.Hour,
	}
	repo.assignments[1] = &domain.EscalationLevelAssignment{
		ID:          "assign-1",
		PolicyID:    "policy-1",
		LevelID:     "level-1",
		LevelNumber: 1,
		Level:       &domain.EscalationLevel{ID: "level-1", Delay: time.Hour},
	}
	repo.assignments[2] = &domain.EscalationLevelAssignment{
		ID:          "assign-2",
		PolicyID:    "policy-1",
		LevelID:     "level-2",
		LevelNumber: 2,
		Level:       &domain.EscalationLevel{ID: "level-2", Delay: time.Hour},
	}
	repo.actions["level-1"] = []domain.EscalationAction{
		{ID: "act-1", LevelID: "level-1", Name: "page primary", Target: domain.ActionTarget{Kind: domain.ActionTargetUser, ID: "user-1"}},
	}
	repo.actions["level-2"] = []domain.EscalationAction{
		{ID: "act-2", LevelID: "level-2", Name: "page backend group", Target: domain.ActionTarget{Kind: domain.ActionTargetUserGroup, ID: "group-1"}},
	}
	repo.users["user-1"] = &domain.User{ID: "user-1", Email: "primary@example.com"}
	repo.users["user-2"] = &domain.User{ID: "user-2", Email: "secondary@example.com"}
	repo.groups["group-1"] = []domain.User{*repo.users["user-1"], *repo.users["user-2"]}
	repo.teams["team-1"] = []domain.User{*repo.users["user-1"], *repo.users["user-2"]}

	service := &domain.Service{
		ID:          "svc-1",
		Name:        "api",
		TeamID:      "team-1",
		PolicyID:    "policy-1",
		CalendarURL: "https://calendar.example.com/oncall.ics",
		Priority:    domain.PriorityP2,
		IsActive:    true,
	}
	repo.services[service.ID] = service

	inc := &domain.Incident{
		ID:        "inc-1",
		ServiceID: service.ID,
		Title:     "api is down",
		Priority:  domain.PriorityP2,
		Status:    domain.IncidentStatusOpen,
	}
	repo.incidents[inc.ID] = inc

	notifier := &fakeNotifier{}
	oncall := &fakeOnCall{identities: []string{"oncall@example.com"}}
	engine := NewEngine(context.Background(), repo, oncall, notifier)
	t.Cleanup(engine.Stop)

	return engine, repo, notifier, inc, service
}

func TestStartEmailsUnknownOnCallIdentityDirectly(t *testing.T) {
	engine, _, notifier, inc, service := fixture(t)

	engine.Start(context.Background(), inc, service)

	assert.Equal(t, []string{"oncall@example.com"}, notifier.addresses)
	assert.Empty(t, notifier.userNotifications(), "identities without an account get raw-address email only")
}

func TestStartRoutesOnCallThroughUserPreferences(t *testing.T) {
	_, repo, _, inc, service := fixture(t)

	notifier := &fakeNotifier{}
	oncall := &fakeOnCall{identities: []string{"primary@example.com", "oncall@example.com"}}
	engine := NewEngine(context.Background(), repo, oncall, notifier)
	t.Cleanup(engine.Stop)

	engine.Start(context.Background(), inc, service)

	assert.Equal(t, []string{"user-1"}, notifier.userNotifications())
	assert.Equal(t, []string{"oncall@example.com"}, notifier.addresses)
}

func TestAdvanceWalksLevelsMonotonically(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	engine.Start(ctx, inc, service)

	engine.Advance(ctx, inc.ID)
	stored, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Equal(t, []string{"user-1"}, notifier.userNotifications())

	engine.Advance(ctx, inc.ID)
	stored, err = repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Equal(t, []string{"user-1", "user-1", "user-2"}, notifier.userNotifications())
}

func TestAdvanceRepeatsLevelBeforeMovingOn(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	repo.assignments[1].Level.Repeat = 2

	engine.Start(ctx, inc, service)

	// initial run plus two repeats, all on level one
	engine.Advance(ctx, inc.ID)
	engine.Advance(ctx, inc.ID)
	engine.Advance(ctx, inc.ID)

	stored, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Equal(t, []string{"user-1", "user-1", "user-1"}, notifier.userNotifications())

	// repeats exhausted, next advance moves to level two
	engine.Advance(ctx, inc.ID)
	stored, err = repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
}

func TestExhaustedPolicyBroadcastsExactlyOnce(t *testing.T) {
	engine, _, notifier, inc, service := fixture(t)
	ctx := context.Background()

	engine.Start(ctx, inc, service)
	engine.Advance(ctx, inc.ID) // level 1
	engine.Advance(ctx, inc.ID) // level 2
	engine.Advance(ctx, inc.ID) // exhausted: broadcast

	broadcast := notifier.userNotifications()
	assert.Equal(t, []string{"user-1", "user-1", "user-2", "user-1", "user-2"}, broadcast)

	// late or duplicate ticks must not re-broadcast
	engine.Advance(ctx, inc.ID)
	engine.OnEscalationTick(inc.ID)
	assert.Equal(t, broadcast, notifier.userNotifications())
}

func TestExhaustedPolicyWithoutNotifyAllStopsSilently(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	repo.policy.NotifyAll = false

	engine.Start(ctx, inc, service)
	engine.Advance(ctx, inc.ID)
	engine.Advance(ctx, inc.ID)

	before := notifier.userNotifications()
	engine.Advance(ctx, inc.ID) // exhausted, no broadcast
	assert.Equal(t, before, notifier.userNotifications())

	// the run is gone; further ticks are no-ops
	engine.Advance(ctx, inc.ID)
	assert.Equal(t, before, notifier.userNotifications())
}

func TestAdvanceRevalidatesStatusAtFireTime(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	engine.Start(ctx, inc, service)

	// acknowledged between scheduling and firing
	acked := *inc
	acked.Status = domain.IncidentStatusAcknowledged
	require.NoError(t, repo.UpdateIncident(ctx, &acked))

	engine.Advance(ctx, inc.ID)

	assert.Empty(t, notifier.userNotifications())
	stored, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.EscalationLevel)
}

func TestCancelDropsPendingRun(t *testing.T) {
	engine, _, notifier, inc, service := fixture(t)
	ctx := context.Background()

	engine.Start(ctx, inc, service)
	engine.Cancel(inc.ID)

	engine.Advance(ctx, inc.ID)
	assert.Empty(t, notifier.userNotifications())
}

func TestAdvanceSkipsMissingLevelAssignment(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	// hole at level one; the walk lands on level two directly
	delete(repo.assignments, 1)

	engine.Start(ctx, inc, service)
	engine.Advance(ctx, inc.ID)

	stored, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Equal(t, []string{"user-1", "user-2"}, notifier.userNotifications())
}

func TestStartWithoutPolicyStaysAtOnCall(t *testing.T) {
	engine, repo, notifier, inc, service := fixture(t)
	ctx := context.Background()

	repo.policy = nil

	engine.Start(ctx, inc, service)
	engine.Advance(ctx, inc.ID)

	assert.Equal(t, []string{"oncall@example.com"}, notifier.addresses)
	assert.Empty(t, notifier.userNotifications())
}

func TestResumeRestartsOpenIncidents(t *testing.T) {
	engine, repo, notifier, inc, _ := fixture(t)
	ctx := context.Background()

	// persisted mid-walk by a previous process
	inc.EscalationLevel = 1
	require.NoError(t, repo.UpdateIncident(ctx, inc))

	require.NoError(t, engine.Resume(ctx))
	engine.Advance(ctx, inc.ID)

	stored, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Equal(t, []string{"user-1", "user-2"}, notifier.userNotifications())
}

func TestResumeSkipsExhaustedIncidents(t *testing.T) {
	engine, repo, notifier, inc, _ := fixture(t)
	ctx := context.Background()

	// already past the last level: its broadcast happened before restart
	inc.EscalationLevel = 3
	require.NoError(t, repo.UpdateIncident(ctx, inc))

	require.NoError(t, engine.Resume(ctx))
	engine.Advance(ctx, inc.ID)

	assert.Empty(t, notifier.userNotifications())
}
