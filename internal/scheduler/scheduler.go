// Package scheduler evaluates report schedules and fires recurring
// executions. It runs as a background goroutine inside reportd, checking
// enabled schedules at a configurable interval (default 30s).
//
// Ticks are independent per schedule: each due schedule runs in its own
// goroutine, and a failure in one never blocks the others. Within a single
// schedule, runs are strict: an in-flight run blocks that schedule's next
// tick until it completes.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/engine"
)

// DefaultInterval is the default tick interval.
const DefaultInterval = 30 * time.Second

// Executor runs a finished configuration. Implemented by engine.Engine.
type Executor interface {
	Execute(ctx context.Context, cfg domain.ReportConfiguration, opts engine.Options) (*domain.ReportResult, error)
}

// Deliverer hands a result to the external delivery mechanism (email,
// export file, …). The mechanics are out of scope here; only the outcome
// is recorded. A nil error means delivered.
type Deliverer interface {
	Deliver(ctx context.Context, res *domain.ReportResult, sched domain.ScheduledReport) error
}

// Scheduler checks enabled schedules and fires runs when they're due.
type Scheduler struct {
	schedules api.ScheduleStore
	reports   api.ReportStore
	history   api.HistoryStore
	executor  Executor
	deliverer Deliverer
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	inflight map[uuid.UUID]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDeliverer sets the delivery collaborator. Without one, runs are
// recorded as delivered (preview-only deployments have no delivery step).
func WithDeliverer(d Deliverer) Option {
	return func(s *Scheduler) { s.deliverer = d }
}

// New creates a Scheduler with the given stores and check interval.
func New(
	schedules api.ScheduleStore,
	reports api.ReportStore,
	history api.HistoryStore,
	executor Executor,
	interval time.Duration,
	opts ...Option,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		schedules: schedules,
		reports:   reports,
		history:   history,
		executor:  executor,
		interval:  interval,
		now:       time.Now,
		inflight:  make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it and any in-flight
// runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.wg.Wait()
}

// Tick evaluates all schedules and fires the due ones. Exported so callers
// (and tests) can drive the scheduler without the background goroutine.
func (s *Scheduler) Tick(ctx context.Context) {
	schedules, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		slog.Error("scheduler: failed to list schedules", "error", err)
		return
	}

	now := s.now()

	for _, sched := range schedules {
		if !sched.Spec.Enabled || sched.Status == domain.SchedulePaused {
			continue
		}

		// If next_run_at is unset, compute it and persist (don't fire).
		if sched.NextRunAt == nil {
			next, err := ComputeNextRun(sched.Spec, now)
			if err != nil {
				slog.Warn("scheduler: invalid schedule spec", "schedule_id", sched.ID, "error", err)
				continue
			}
			if err := s.schedules.UpdateScheduleRun(ctx, sched.ID, api.ScheduleRunUpdate{
				NextRunAt: &next,
			}); err != nil {
				slog.Error("scheduler: failed to set initial next_run_at", "schedule_id", sched.ID, "error", err)
			}
			continue
		}

		// Not due yet.
		if sched.NextRunAt.After(now) {
			continue
		}

		// A schedule never runs twice concurrently: skip while in flight.
		if !s.claim(sched.ID) {
			slog.Debug("scheduler: skipping, previous run still in flight", "schedule_id", sched.ID)
			continue
		}

		s.wg.Add(1)
		go func(sched domain.ScheduledReport) {
			defer s.wg.Done()
			defer s.release(sched.ID)
			s.runDue(ctx, sched)
		}(sched)
	}
}

func (s *Scheduler) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// runDue executes one due schedule: run the report with a forced refresh
// (scheduled runs must never reuse stale cache), deliver the result, append
// a history record, and advance the schedule.
func (s *Scheduler) runDue(ctx context.Context, sched domain.ScheduledReport) {
	report, err := s.reports.GetReport(ctx, sched.ReportID)
	if err != nil {
		slog.Error("scheduler: failed to get report", "schedule_id", sched.ID, "report_id", sched.ReportID, "error", err)
		return
	}
	if report == nil {
		slog.Warn("scheduler: report not found for schedule", "schedule_id", sched.ID, "report_id", sched.ReportID)
		return
	}

	now := s.now()
	res, execErr := s.executor.Execute(ctx, report.Configuration, engine.Options{ForceRefresh: true})

	// Cancellation (shutdown) is not failure: no history, no state change.
	if execErr != nil && errors.Is(execErr, context.Canceled) {
		slog.Debug("scheduler: run cancelled", "schedule_id", sched.ID)
		return
	}

	item := domain.ReportHistoryItem{
		ID:             uuid.New(),
		ReportID:       sched.ReportID,
		ScheduleID:     &sched.ID,
		ExportFormat:   sched.Spec.ExportFormat,
		DeliveryMethod: sched.Spec.DeliveryMethod,
		DeliveryStatus: domain.DeliverySuccess,
		CreatedAt:      now,
	}

	var runErr error
	switch {
	case execErr != nil:
		runErr = execErr
	case s.deliverer != nil:
		// A failed delivery marks the run, but the produced result stays
		// valid; the report's last-generated timestamp still advances.
		item.ResultID = &res.ID
		item.ProcessingTimeMs = res.ProcessingTimeMs
		runErr = s.deliverer.Deliver(ctx, res, sched)
	default:
		item.ResultID = &res.ID
		item.ProcessingTimeMs = res.ProcessingTimeMs
	}

	if runErr != nil {
		item.DeliveryStatus = domain.DeliveryError
		item.ErrorMessage = runErr.Error()
	}

	if err := s.history.AppendHistory(ctx, item); err != nil {
		slog.Error("scheduler: failed to append history", "schedule_id", sched.ID, "error", err)
	}

	if res != nil {
		if err := s.reports.TouchGenerated(ctx, sched.ReportID, res.GeneratedAt); err != nil {
			slog.Warn("scheduler: failed to update report generation time", "report_id", sched.ReportID, "error", err)
		}
	}

	// Advance the schedule from NOW. Failed runs still get a next_run_at so
	// a future retry happens unless the user explicitly pauses.
	update := api.ScheduleRunUpdate{LastRunAt: &now}
	if next, err := ComputeNextRun(sched.Spec, now); err == nil {
		update.NextRunAt = &next
	} else {
		slog.Warn("scheduler: failed to compute next run", "schedule_id", sched.ID, "error", err)
	}

	if runErr != nil {
		status := domain.ScheduleError
		msg := runErr.Error()
		update.Status = &status
		update.ErrorMessage = &msg
	} else {
		status := domain.ScheduleActive
		empty := ""
		update.Status = &status
		update.ErrorMessage = &empty
	}

	if err := s.schedules.UpdateScheduleRun(ctx, sched.ID, update); err != nil {
		slog.Error("scheduler: failed to update schedule", "schedule_id", sched.ID, "error", err)
		return
	}

	slog.Info("scheduler: completed run",
		"schedule_id", sched.ID,
		"report_id", sched.ReportID,
		"status", item.DeliveryStatus,
		"next_run_at", update.NextRunAt,
	)
}
