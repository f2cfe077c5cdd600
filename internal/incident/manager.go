// Package incident owns the incident lifecycle: deduplicated creation on
// DOWN transitions, debounced auto-resolution on recovery, and the
// acknowledge/resolve transitions that park or end an incident.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/pkg/metrics"
)

// Lifecycle errors.
var (
	ErrNotFound        = errors.New("incident not found")
	ErrAlreadyResolved = errors.New("incident already resolved")
)

// Repository is the storage surface the manager consumes.
type Repository interface {
	// GetOpenIncident returns the single non-terminal incident for a
	// service, or ErrNotFound when none exists.
	GetOpenIncident(ctx context.Context, serviceID string) (*domain.Incident, error)

	// CreateIncidentIfAbsent inserts the incident unless a non-terminal
	// one already exists for the same service; in that case the existing
	// incident is returned and created is false.
	CreateIncidentIfAbsent(ctx context.Context, inc *domain.Incident) (*domain.Incident, bool, error)

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, inc *domain.Incident) error
}

// EscalationControl is the escalation engine surface the manager drives:
// entry on incident creation, cancellation on any terminal transition.
type EscalationControl interface {
	Start(ctx context.Context, inc *domain.Incident, service *domain.Service)
	Cancel(incidentID string)
}

// Manager converts check transitions into incident lifecycle transitions.
// All operations for one service are serialized through a per-service lock,
// so concurrent check batches can never open two incidents for one service.
type Manager struct {
	repo        Repository
	escalations EscalationControl

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// consecutive UP samples per target while its service has an open
	// incident; reset by any intervening DOWN
	recoveryMu sync.Mutex
	recovery   map[string]int
}

// NewManager creates an incident manager.
func NewManager(repo Repository, escalations EscalationControl) *Manager {
	return &Manager{
		repo:        repo,
		escalations: escalations,
		locks:       make(map[string]*sync.Mutex),
		recovery:    make(map[string]int),
	}
}

func (m *Manager) serviceLock(serviceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[serviceID] = lock
	}
	return lock
}

// OnDown handles a DOWN result for a target. It returns the id of the
// incident covering the failure: a freshly created one, or the existing
// non-terminal incident (dedup, no restart of escalation). An empty id
// means incident creation was suppressed by a maintenance window.
func (m *Manager) OnDown(ctx context.Context, service *domain.Service, target *domain.MonitoredTarget) (string, error) {
	lock := m.serviceLock(service.ID)
	lock.Lock()
	defer lock.Unlock()

	// any DOWN resets the recovery streak
	m.resetRecovery(target.ID)

	if service.InMaintenance(time.Now()) {
		slog.Debug("incident suppressed by maintenance window",
			"service_id", service.ID,
			"target_id", target.ID,
		)
		return "", nil
	}

	existing, err := m.repo.GetOpenIncident(ctx, service.ID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("get open incident: %w", err)
	}

	now := time.Now().UTC()
	inc := &domain.Incident{
		ID:              uuid.NewString(),
		ServiceID:       service.ID,
		Title:           fmt.Sprintf("%s is down", target.Name),
		Priority:        service.Priority,
		Status:          domain.IncidentStatusOpen,
		EscalationLevel: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	inc, created, err := m.repo.CreateIncidentIfAbsent(ctx, inc)
	if err != nil {
		return "", fmt.Errorf("create incident: %w", err)
	}
	if !created {
		// lost a race against another writer; theirs wins
		return inc.ID, nil
	}

	metrics.IncidentsTotal.WithLabelValues("opened").Inc()
	metrics.IncidentsOpen.Inc()

	slog.Info("incident opened",
		"incident_id", inc.ID,
		"service_id", service.ID,
		"target_id", target.ID,
		"priority", inc.Priority,
	)

	m.escalations.Start(ctx, inc, service)

	return inc.ID, nil
}

// OnRecovered handles an UP result for a target. The open incident is
// resolved only after the target stays up for its full recovery period;
// a single UP sample is never enough.
func (m *Manager) OnRecovered(ctx context.Context, service *domain.Service, target *domain.MonitoredTarget) error {
	lock := m.serviceLock(service.ID)
	lock.Lock()
	defer lock.Unlock()

	inc, err := m.repo.GetOpenIncident(ctx, service.ID)
	if errors.Is(err, ErrNotFound) {
		m.resetRecovery(target.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get open incident: %w", err)
	}

	streak := m.bumpRecovery(target.ID)
	if streak < target.RecoveryThreshold() {
		slog.Debug("recovery in progress",
			"incident_id", inc.ID,
			"target_id", target.ID,
			"streak", streak,
			"required", target.RecoveryThreshold(),
		)
		return nil
	}

	m.resetRecovery(target.ID)
	if err := m.resolve(ctx, inc); err != nil {
		return err
	}

	slog.Info("incident auto-resolved after recovery period",
		"incident_id", inc.ID,
		"service_id", service.ID,
		"target_id", target.ID,
	)
	return nil
}

// Acknowledge parks an open incident. Escalation timers are cancelled;
// acknowledging a resolved incident is an error.
func (m *Manager) Acknowledge(ctx context.Context, incidentID string) (*domain.Incident, error) {
	inc, err := m.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	lock := m.serviceLock(inc.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	// re-read under the lock
	inc, err = m.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if inc.Status == domain.IncidentStatusAcknowledged {
		return inc, nil
	}

	now := time.Now().UTC()
	inc.Status = domain.IncidentStatusAcknowledged
	inc.AckedAt = &now
	inc.UpdatedAt = now
	if err := m.repo.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	m.escalations.Cancel(inc.ID)
	metrics.IncidentsTotal.WithLabelValues("acknowledged").Inc()

	slog.Info("incident acknowledged", "incident_id", inc.ID)
	return inc, nil
}

// Resolve terminates an incident manually.
func (m *Manager) Resolve(ctx context.Context, incidentID string) (*domain.Incident, error) {
	inc, err := m.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	lock := m.serviceLock(inc.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	inc, err = m.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if err := m.resolve(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// resolve transitions inc to Resolved and cancels escalation.
// Callers must hold the service lock.
func (m *Manager) resolve(ctx context.Context, inc *domain.Incident) error {
	now := time.Now().UTC()
	inc.Status = domain.IncidentStatusResolved
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	if err := m.repo.UpdateIncident(ctx, inc); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	m.escalations.Cancel(inc.ID)
	metrics.IncidentsTotal.WithLabelValues("resolved").Inc()
	metrics.IncidentsOpen.Dec()
	return nil
}

func (m *Manager) bumpRecovery(targetID string) int {
	m.recoveryMu.Lock()
	defer m.recoveryMu.Unlock()
	m.recovery[targetID]++
	return m.recovery[targetID]
}

func (m *Manager) resetRecovery(targetID string) {
	m.recoveryMu.Lock()
	defer m.recoveryMu.Unlock()
	delete(m.recovery, targetID)
}
