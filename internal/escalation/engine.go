// Package escalation walks the ordered levels of an escalation policy for
// each open incident, invoking notification actions until the incident is
// acknowledged, resolved, or the policy is exhausted.
package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/pkg/metrics"
)

// ErrNotFound is returned by repositories for missing escalation config.
var ErrNotFound = errors.New("escalation config not found")

// fallbackDelay schedules the next advance when neither the level nor the
// policy carries a usable delay.
const fallbackDelay = time.Minute

// Repository is the storage surface the engine consumes.
type Repository interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, inc *domain.Incident) error
	ListNonTerminalIncidents(ctx context.Context) ([]domain.Incident, error)
	GetService(ctx context.Context, id string) (*domain.Service, error)

	GetEscalationPolicy(ctx context.Context, policyID string) (*domain.EscalationPolicy, error)
	// GetLevelAssignment returns the assignment for (policy, levelNumber)
	// with its Level populated.
	GetLevelAssignment(ctx context.Context, policyID string, levelNumber int) (*domain.EscalationLevelAssignment, error)
	GetActions(ctx context.Context, levelID string) ([]domain.EscalationAction, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]domain.User, error)
	GetTeamMembers(ctx context.Context, teamID string) ([]domain.User, error)
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
}

// OnCallResolver returns the identities currently on call for a calendar.
type OnCallResolver interface {
	Resolve(ctx context.Context, calendarURL string, at time.Time) ([]string, error)
}

// Notifier is the dispatch surface the engine hands resolved recipients to.
type Notifier interface {
	// Notify delivers through the user's preferred channels for the
	// incident's priority class.
	Notify(ctx context.Context, user *domain.User, inc *domain.Incident, priority domain.Priority) error
	// NotifyAddress delivers an unconditional email to a raw address,
	// bypassing preference resolution.
	NotifyAddress(ctx context.Context, email string, inc *domain.Incident) error
	// NotifyWebhook delivers the incident context to a webhook URL.
	NotifyWebhook(ctx context.Context, url string, inc *domain.Incident) error
}

// run is the in-memory escalation state for one open incident.
type run struct {
	incidentID string
	service    domain.Service
	policy     *domain.EscalationPolicy

	level         int
	repeatsLeft   int
	broadcastDone bool

	timer *time.Timer
}

// Engine owns per-incident escalation state and advances it on timers.
type Engine struct {
	repo     Repository
	oncall   OnCallResolver
	notifier Notifier

	baseCtx context.Context

	mu   sync.Mutex
	runs map[string]*run
}

// NewEngine creates an escalation engine. ctx bounds all timer-driven work;
// cancelling it stops every pending advance.
func NewEngine(ctx context.Context, repo Repository, oncall OnCallResolver, notifier Notifier) *Engine {
	return &Engine{
		repo:     repo,
		oncall:   oncall,
		notifier: notifier,
		baseCtx:  ctx,
		runs:     make(map[string]*run),
	}
}

// Start enters the state machine for a freshly created incident: the
// on-call rotation is notified immediately (level 0), then the first
// timer is armed from the policy's first level.
func (e *Engine) Start(ctx context.Context, inc *domain.Incident, service *domain.Service) {
	e.notifyOnCall(ctx, inc, service)

	policy, err := e.repo.GetEscalationPolicy(ctx, service.PolicyID)
	if err != nil {
		slog.Error("no escalation policy, staying at on-call notification",
			"incident_id", inc.ID,
			"service_id", service.ID,
			"policy_id", service.PolicyID,
			"error", err,
		)
		return
	}

	r := &run{
		incidentID: inc.ID,
		service:    *service,
		policy:     policy,
		level:      inc.EscalationLevel,
	}

	e.mu.Lock()
	if _, exists := e.runs[inc.ID]; exists {
		e.mu.Unlock()
		return
	}
	e.runs[inc.ID] = r
	e.schedule(r, e.delayFor(ctx, r, r.level+1))
	e.mu.Unlock()

	slog.Info("escalation started",
		"incident_id", inc.ID,
		"policy_id", policy.ID,
		"max_level", policy.MaxLevel,
		"notify_all", policy.NotifyAll,
	)
}

// Resume re-enters the state machine for incidents that were non-terminal
// when the process last stopped. Incidents already past the last level are
// left alone: their broadcast, if any, has already happened.
func (e *Engine) Resume(ctx context.Context) error {
	incidents, err := e.repo.ListNonTerminalIncidents(ctx)
	if err != nil {
		return err
	}

	for i := range incidents {
		inc := incidents[i]
		if !inc.Status.IsActionable() {
			continue
		}

		service, err := e.repo.GetService(ctx, inc.ServiceID)
		if err != nil {
			slog.Error("resume: service lookup failed", "incident_id", inc.ID, "error", err)
			continue
		}
		policy, err := e.repo.GetEscalationPolicy(ctx, service.PolicyID)
		if err != nil {
			slog.Error("resume: policy lookup failed", "incident_id", inc.ID, "error", err)
			continue
		}
		if inc.EscalationLevel > policy.MaxLevel {
			continue
		}

		r := &run{
			incidentID: inc.ID,
			service:    *service,
			policy:     policy,
			level:      inc.EscalationLevel,
		}

		e.mu.Lock()
		if _, exists := e.runs[inc.ID]; !exists {
			e.runs[inc.ID] = r
			e.schedule(r, e.delayFor(ctx, r, r.level+1))
		}
		e.mu.Unlock()

		slog.Info("escalation resumed", "incident_id", inc.ID, "level", inc.EscalationLevel)
	}

	return nil
}

// Cancel drops all pending timers for an incident. Safe to call for
// incidents with no active run.
func (e *Engine) Cancel(incidentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[incidentID]
	if !ok {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	delete(e.runs, incidentID)

	slog.Debug("escalation cancelled", "incident_id", incidentID)
}

// Stop cancels every active run.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.runs {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(e.runs, id)
	}
	slog.Info("escalation engine stopped")
}

// OnEscalationTick is the externally drivable advance trigger.
func (e *Engine) OnEscalationTick(incidentID string) {
	e.Advance(e.baseCtx, incidentID)
}

// Advance performs one re-entrant advance step for an incident. The
// incident's status is re-checked at fire time: a late timer observing a
// terminal or acknowledged incident is a no-op.
func (e *Engine) Advance(ctx context.Context, incidentID string) {
	e.mu.Lock()
	r, ok := e.runs[incidentID]
	e.mu.Unlock()
	if !ok {
		return
	}

	inc, err := e.repo.GetIncident(ctx, incidentID)
	if err != nil {
		slog.Error("advance: incident lookup failed", "incident_id", incidentID, "error", err)
		metrics.EscalationAdvances.WithLabelValues("error").Inc()
		// leave the run armed; the next tick may succeed
		e.mu.Lock()
		if cur, ok := e.runs[incidentID]; ok {
			e.schedule(cur, fallbackDelay)
		}
		e.mu.Unlock()
		return
	}

	if !inc.Status.IsActionable() {
		e.Cancel(incidentID)
		metrics.EscalationAdvances.WithLabelValues("terminal").Inc()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// re-check under the lock: Cancel may have raced the status read
	r, ok = e.runs[incidentID]
	if !ok || r.broadcastDone {
		return
	}

	if r.level >= 1 && r.repeatsLeft > 0 {
		r.repeatsLeft--
		e.runLevel(ctx, r, inc, r.level)
		e.schedule(r, e.delayFor(ctx, r, r.level))
		metrics.EscalationAdvances.WithLabelValues("repeat").Inc()
		return
	}

	next := r.level + 1
	for next <= r.policy.MaxLevel {
		assignment, err := e.repo.GetLevelAssignment(ctx, r.policy.ID, next)
		if err != nil {
			// config hole: skip the rung, keep walking
			slog.Error("missing level assignment, skipping",
				"incident_id", incidentID,
				"policy_id", r.policy.ID,
				"level_number", next,
				"error", err,
			)
			next++
			continue
		}

		r.level = next
		r.repeatsLeft = assignment.Level.Repeat
		e.persistLevel(ctx, inc, next)
		e.runLevel(ctx, r, inc, next)
		e.schedule(r, levelDelay(assignment.Level, r.policy))
		metrics.EscalationAdvances.WithLabelValues("advanced").Inc()
		return
	}

	// policy exhausted
	r.level = next
	e.persistLevel(ctx, inc, next)

	if r.policy.NotifyAll {
		e.broadcast(ctx, r, inc)
		r.broadcastDone = true
		metrics.EscalationAdvances.WithLabelValues("broadcast").Inc()
		return
	}

	slog.Info("escalation exhausted without broadcast", "incident_id", incidentID)
	if r.timer != nil {
		r.timer.Stop()
	}
	delete(e.runs, incidentID)
	metrics.EscalationAdvances.WithLabelValues("exhausted").Inc()
}

// schedule arms the run's timer. Callers must hold e.mu.
func (e *Engine) schedule(r *run, delay time.Duration) {
	if r.timer != nil {
		r.timer.Stop()
	}
	id := r.incidentID
	r.timer = time.AfterFunc(delay, func() {
		e.Advance(e.baseCtx, id)
	})
}

// delayFor returns the delay configured for the given level number,
// falling back to the policy default.
func (e *Engine) delayFor(ctx context.Context, r *run, levelNumber int) time.Duration {
	if levelNumber >= 1 && levelNumber <= r.policy.MaxLevel {
		assignment, err := e.repo.GetLevelAssignment(ctx, r.policy.ID, levelNumber)
		if err == nil {
			return levelDelay(assignment.Level, r.policy)
		}
	}
	if r.policy.DefaultDelay > 0 {
		return r.policy.DefaultDelay
	}
	return fallbackDelay
}

func levelDelay(level *domain.EscalationLevel, policy *domain.EscalationPolicy) time.Duration {
	if level != nil && level.Delay > 0 {
		return level.Delay
	}
	if policy.DefaultDelay > 0 {
		return policy.DefaultDelay
	}
	return fallbackDelay
}

// persistLevel records the monotonically increasing level on the incident.
func (e *Engine) persistLevel(ctx context.Context, inc *domain.Incident, level int) {
	inc.EscalationLevel = level
	inc.UpdatedAt = time.Now().UTC()
	if err := e.repo.UpdateIncident(ctx, inc); err != nil {
		slog.Error("persist escalation level failed", "incident_id", inc.ID, "level", level, "error", err)
	}
}

// notifyOnCall resolves the current rotation and notifies every identity.
// Identities matching a user account go through that user's channel
// preferences; anyone else gets a plain email to the raw identity.
func (e *Engine) notifyOnCall(ctx context.Context, inc *domain.Incident, service *domain.Service) {
	if service.CalendarURL == "" {
		slog.Warn("service has no on-call calendar", "service_id", service.ID)
		return
	}

	identities, err := e.oncall.Resolve(ctx, service.CalendarURL, time.Now())
	if err != nil {
		slog.Error("on-call resolution failed",
			"incident_id", inc.ID,
			"service_id", service.ID,
			"error", err,
		)
		return
	}

	for _, identity := range identities {
		user, err := e.repo.GetUserByEmail(ctx, identity)
		if err == nil {
			if err := e.notifier.Notify(ctx, user, inc, inc.Priority); err != nil {
				slog.Error("on-call notification failed",
					"incident_id", inc.ID,
					"user_id", user.ID,
					"error", err,
				)
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			slog.Error("on-call identity lookup failed",
				"incident_id", inc.ID,
				"identity", identity,
				"error", err,
			)
		}
		if err := e.notifier.NotifyAddress(ctx, identity, inc); err != nil {
			slog.Error("on-call notification failed",
				"incident_id", inc.ID,
				"identity", identity,
				"error", err,
			)
		}
	}

	slog.Info("on-call rotation notified", "incident_id", inc.ID, "count", len(identities))
}

// runLevel resolves and executes every action of one level. A bad action
// is logged and skipped; the remaining actions still run.
func (e *Engine) runLevel(ctx context.Context, r *run, inc *domain.Incident, levelNumber int) {
	assignment, err := e.repo.GetLevelAssignment(ctx, r.policy.ID, levelNumber)
	if err != nil {
		slog.Error("level assignment vanished", "policy_id", r.policy.ID, "level_number", levelNumber, "error", err)
		return
	}

	actions, err := e.repo.GetActions(ctx, assignment.LevelID)
	if err != nil {
		slog.Error("action lookup failed", "level_id", assignment.LevelID, "error", err)
		return
	}

	slog.Info("running escalation level",
		"incident_id", inc.ID,
		"level_number", levelNumber,
		"actions", len(actions),
	)

	for _, action := range actions {
		e.runAction(ctx, inc, action)
	}
}

// runAction dispatches a single action through the target kind table.
func (e *Engine) runAction(ctx context.Context, inc *domain.Incident, action domain.EscalationAction) {
	switch action.Target.Kind {
	case domain.ActionTargetUser:
		user, err := e.repo.GetUser(ctx, action.Target.ID)
		if err != nil {
			slog.Error("action target user not found", "action", action.Name, "user_id", action.Target.ID, "error", err)
			return
		}
		if err := e.notifier.Notify(ctx, user, inc, inc.Priority); err != nil {
			slog.Error("user notification failed", "action", action.Name, "user_id", user.ID, "error", err)
		}

	case domain.ActionTargetUserGroup:
		members, err := e.repo.GetGroupMembers(ctx, action.Target.ID)
		if err != nil {
			slog.Error("action target group not found", "action", action.Name, "group_id", action.Target.ID, "error", err)
			return
		}
		for i := range members {
			if err := e.notifier.Notify(ctx, &members[i], inc, inc.Priority); err != nil {
				slog.Error("group member notification failed", "action", action.Name, "user_id", members[i].ID, "error", err)
			}
		}

	case domain.ActionTargetWebhook:
		hook, err := e.repo.GetWebhook(ctx, action.Target.ID)
		if err != nil {
			slog.Error("action target webhook not found", "action", action.Name, "webhook_id", action.Target.ID, "error", err)
			return
		}
		if err := e.notifier.NotifyWebhook(ctx, hook.URL, inc); err != nil {
			slog.Error("webhook notification failed", "action", action.Name, "webhook_id", hook.ID, "error", err)
		}

	default:
		slog.Error("unknown action target kind", "action", action.Name, "kind", action.Target.Kind)
	}
}

// broadcast notifies every member of the service's team once.
func (e *Engine) broadcast(ctx context.Context, r *run, inc *domain.Incident) {
	members, err := e.repo.GetTeamMembers(ctx, r.service.TeamID)
	if err != nil {
		slog.Error("broadcast: team lookup failed", "incident_id", inc.ID, "team_id", r.service.TeamID, "error", err)
		return
	}

	for i := range members {
		if err := e.notifier.Notify(ctx, &members[i], inc, inc.Priority); err != nil {
			slog.Error("broadcast notification failed", "incident_id", inc.ID, "user_id", members[i].ID, "error", err)
		}
	}

	slog.Info("policy exhausted, team broadcast sent",
		"incident_id", inc.ID,
		"team_id", r.service.TeamID,
		"members", len(members),
	)
}
