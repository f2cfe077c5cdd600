package check

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/watchover/watchover/internal/domain"
)

// Repository is the storage surface the scheduler consumes.
type Repository interface {
	FindActiveServices(ctx context.Context) ([]domain.Service, error)
	FindTargets(ctx context.Context, serviceID string, intervalSeconds int) ([]domain.MonitoredTarget, error)
	BulkInsertResults(ctx context.Context, results []domain.CheckResult) error
	FindHeartbeatStates(ctx context.Context) ([]HeartbeatState, error)
	RecordPulse(ctx context.Context, token string, at time.Time) (*domain.MonitoredTarget, error)
}

// IncidentSink receives UP/DOWN transitions per target. Implemented by the
// incident manager; the scheduler never touches incidents directly.
type IncidentSink interface {
	OnDown(ctx context.Context, service *domain.Service, target *domain.MonitoredTarget) (string, error)
	OnRecovered(ctx context.Context, service *domain.Service, target *domain.MonitoredTarget) error
}

// HeartbeatState pairs a heartbeat target with its last received pulse.
type HeartbeatState struct {
	Target    domain.MonitoredTarget
	LastPulse *time.Time
}

// Config contains scheduler settings.
type Config struct {
	MaxConcurrent  int
	HeartbeatGrace time.Duration
}

// Scheduler groups active targets by check interval and drives the
// executor for each due target.
type Scheduler struct {
	config    Config
	repo      Repository
	executor  *Executor
	incidents IncidentSink

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a check scheduler.
func NewScheduler(config Config, repo Repository, executor *Executor, incidents IncidentSink) *Scheduler {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 32
	}
	return &Scheduler{
		config:    config,
		repo:      repo,
		executor:  executor,
		incidents: incidents,
		stopCh:    make(chan struct{}),
	}
}

// Start launches one ticker per supported check interval plus the
// heartbeat sweep. Tickers stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting check scheduler",
		"intervals", domain.CheckIntervals,
		"max_concurrent", s.config.MaxConcurrent,
	)

	for _, interval := range domain.CheckIntervals {
		s.wg.Add(1)
		go s.runInterval(ctx, interval)
	}

	s.wg.Add(1)
	go s.runHeartbeatSweep(ctx)
}

// Stop gracefully stops all tickers.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("check scheduler stopped")
}

func (s *Scheduler) runInterval(ctx context.Context, intervalSeconds int) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.RunDueChecks(ctx, intervalSeconds); err != nil {
				slog.Error("scheduler tick failed", "interval", intervalSeconds, "error", err)
			}
		}
	}
}

func (s *Scheduler) runHeartbeatSweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SweepHeartbeats(ctx, time.Now()); err != nil {
				slog.Error("heartbeat sweep failed", "error", err)
			}
		}
	}
}

// evaluation couples a check result with the service/target pair that
// produced it, so lifecycle hooks can fire after the batch write.
type evaluation struct {
	service domain.Service
	target  domain.MonitoredTarget
	result  domain.CheckResult
}

// RunDueChecks evaluates every active target of every active service whose
// configured interval equals intervalSeconds. Checks run concurrently; all
// results are persisted as a single batch, then UP/DOWN transitions are
// handed to the incident sink.
func (s *Scheduler) RunDueChecks(ctx context.Context, intervalSeconds int) error {
	services, err := s.repo.FindActiveServices(ctx)
	if err != nil {
		return fmt.Errorf("find active services: %w", err)
	}

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var (
		mu          sync.Mutex
		evaluations []evaluation
		wg          sync.WaitGroup
	)

	for _, service := range services {
		targets, err := s.repo.FindTargets(ctx, service.ID, intervalSeconds)
		if err != nil {
			// one service's lookup failure must not starve the rest
			slog.Error("find targets failed", "service_id", service.ID, "error", err)
			continue
		}

		for _, target := range targets {
			if target.Kind == domain.TargetKindHeartbeat {
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(service domain.Service, target domain.MonitoredTarget) {
				defer wg.Done()
				defer func() { <-sem }()

				result := s.checkTarget(ctx, &target)

				mu.Lock()
				evaluations = append(evaluations, evaluation{service: service, target: target, result: result})
				mu.Unlock()
			}(service, target)
		}
	}

	wg.Wait()

	return s.commit(ctx, evaluations)
}

// checkTarget runs one check, containing panics so a single misbehaving
// target cannot abort the batch for its siblings.
func (s *Scheduler) checkTarget(ctx context.Context, target *domain.MonitoredTarget) (result domain.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("check panicked", "target_id", target.ID, "panic", r)
			result = domain.CheckResult{
				TargetID:  target.ID,
				ServiceID: target.ServiceID,
				Status:    domain.CheckStatusDown,
				Message:   fmt.Sprintf("check panicked: %v", r),
				CheckedAt: time.Now().UTC(),
			}
		}
	}()

	return s.executor.Execute(ctx, target)
}

// commit persists the batch in one storage round trip, then fires
// incident hooks. Hooks are explicit calls, never storage-side triggers.
func (s *Scheduler) commit(ctx context.Context, evaluations []evaluation) error {
	if len(evaluations) == 0 {
		return nil
	}

	results := make([]domain.CheckResult, 0, len(evaluations))
	for _, ev := range evaluations {
		results = append(results, ev.result)
	}

	if err := s.repo.BulkInsertResults(ctx, results); err != nil {
		return fmt.Errorf("bulk insert results: %w", err)
	}

	for _, ev := range evaluations {
		switch ev.result.Status {
		case domain.CheckStatusDown:
			incidentID, err := s.incidents.OnDown(ctx, &ev.service, &ev.target)
			if err != nil {
				slog.Error("incident hook failed",
					"service_id", ev.service.ID,
					"target_id", ev.target.ID,
					"error", err,
				)
				continue
			}
			if incidentID != "" {
				slog.Info("target down",
					"service_id", ev.service.ID,
					"target_id", ev.target.ID,
					"incident_id", incidentID,
					"message", ev.result.Message,
				)
			}
		case domain.CheckStatusUp:
			if err := s.incidents.OnRecovered(ctx, &ev.service, &ev.target); err != nil {
				slog.Error("recovery hook failed",
					"service_id", ev.service.ID,
					"target_id", ev.target.ID,
					"error", err,
				)
			}
		}
	}

	return nil
}

// SweepHeartbeats converts overdue heartbeat targets into DOWN results and
// fresh ones into UP results, feeding the same lifecycle path as HTTP checks.
func (s *Scheduler) SweepHeartbeats(ctx context.Context, now time.Time) error {
	states, err := s.repo.FindHeartbeatStates(ctx)
	if err != nil {
		return fmt.Errorf("find heartbeat states: %w", err)
	}
	if len(states) == 0 {
		return nil
	}

	services, err := s.repo.FindActiveServices(ctx)
	if err != nil {
		return fmt.Errorf("find active services: %w", err)
	}
	serviceByID := make(map[string]domain.Service, len(services))
	for _, svc := range services {
		serviceByID[svc.ID] = svc
	}

	var evaluations []evaluation
	for _, state := range states {
		service, ok := serviceByID[state.Target.ServiceID]
		if !ok {
			continue
		}

		deadline := state.Target.HeartbeatPeriod + s.config.HeartbeatGrace
		result := domain.CheckResult{
			TargetID:  state.Target.ID,
			ServiceID: state.Target.ServiceID,
			CheckedAt: now.UTC(),
		}

		switch {
		case state.LastPulse == nil:
			if now.Sub(state.Target.CreatedAt) <= deadline {
				continue // never pulsed but still within its first period
			}
			result.Status = domain.CheckStatusDown
			result.Message = "no heartbeat received"
		case now.Sub(*state.LastPulse) > deadline:
			result.Status = domain.CheckStatusDown
			result.Message = fmt.Sprintf("heartbeat overdue, last pulse at %s", state.LastPulse.UTC().Format(time.RFC3339))
		default:
			result.Status = domain.CheckStatusUp
			result.Message = "heartbeat on time"
		}

		evaluations = append(evaluations, evaluation{service: service, target: state.Target, result: result})
	}

	return s.commit(ctx, evaluations)
}
