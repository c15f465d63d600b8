package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/engine"
)

// --- Mock stores ---

type mockScheduleStore struct {
	mu        sync.Mutex
	schedules []domain.ScheduledReport
	updates   map[uuid.UUID][]api.ScheduleRunUpdate
}

func newMockScheduleStore(schedules ...domain.ScheduledReport) *mockScheduleStore {
	return &mockScheduleStore{
		schedules: schedules,
		updates:   make(map[uuid.UUID][]api.ScheduleRunUpdate),
	}
}

func (m *mockScheduleStore) ListSchedules(context.Context) ([]domain.ScheduledReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScheduledReport, len(m.schedules))
	copy(out, m.schedules)
	return out, nil
}

func (m *mockScheduleStore) GetSchedule(_ context.Context, id uuid.UUID) (*domain.ScheduledReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.schedules {
		if m.schedules[i].ID == id {
			s := m.schedules[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *mockScheduleStore) CreateSchedule(context.Context, *domain.ScheduledReport) error {
	return nil
}

func (m *mockScheduleStore) UpdateScheduleSpec(context.Context, uuid.UUID, domain.ScheduleSpec) (*domain.ScheduledReport, error) {
	return nil, nil
}

func (m *mockScheduleStore) UpdateScheduleRun(_ context.Context, id uuid.UUID, update api.ScheduleRunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = append(m.updates[id], update)
	return nil
}

func (m *mockScheduleStore) DeleteSchedule(context.Context, uuid.UUID) error {
	return nil
}

func (m *mockScheduleStore) lastUpdate(id uuid.UUID) (api.ScheduleRunUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ups := m.updates[id]
	if len(ups) == 0 {
		return api.ScheduleRunUpdate{}, false
	}
	return ups[len(ups)-1], true
}

type mockReportStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*domain.SavedReport
	touched map[uuid.UUID]time.Time
}

func newMockReportStore(reports ...*domain.SavedReport) *mockReportStore {
	m := &mockReportStore{
		reports: make(map[uuid.UUID]*domain.SavedReport),
		touched: make(map[uuid.UUID]time.Time),
	}
	for _, r := range reports {
		m.reports[r.ID] = r
	}
	return m
}

func (m *mockReportStore) ListReports(context.Context) ([]domain.SavedReport, error) {
	return nil, nil
}

func (m *mockReportStore) GetReport(_ context.Context, id uuid.UUID) (*domain.SavedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id], nil
}

func (m *mockReportStore) CreateReport(context.Context, *domain.SavedReport) error { return nil }

func (m *mockReportStore) UpdateConfiguration(context.Context, uuid.UUID, domain.ReportConfiguration) (*domain.SavedReport, error) {
	return nil, nil
}

func (m *mockReportStore) SetFavorite(context.Context, uuid.UUID, bool) (*domain.SavedReport, error) {
	return nil, nil
}

func (m *mockReportStore) IncrementViews(context.Context, uuid.UUID) error { return nil }

func (m *mockReportStore) TouchGenerated(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
	return nil
}

func (m *mockReportStore) DeleteReport(context.Context, uuid.UUID) error { return nil }

type mockHistoryStore struct {
	mu    sync.Mutex
	items []domain.ReportHistoryItem
}

func (m *mockHistoryStore) AppendHistory(_ context.Context, item domain.ReportHistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

func (m *mockHistoryStore) ListHistory(context.Context, uuid.UUID) ([]domain.ReportHistoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ReportHistoryItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

type mockExecutor struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{} // when set, Execute waits until closed
	refresh []bool
}

func (m *mockExecutor) Execute(ctx context.Context, cfg domain.ReportConfiguration, opts engine.Options) (*domain.ReportResult, error) {
	m.mu.Lock()
	m.calls++
	m.refresh = append(m.refresh, opts.ForceRefresh)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ReportResult{
		ID:               uuid.New(),
		Configuration:    cfg,
		GeneratedAt:      time.Now(),
		ProcessingTimeMs: 12,
	}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockDeliverer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockDeliverer) Deliver(context.Context, *domain.ReportResult, domain.ScheduledReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

// --- Fixtures ---

func dailySpec() domain.ScheduleSpec {
	return domain.ScheduleSpec{
		Enabled:        true,
		Frequency:      domain.FreqDaily,
		Time:           "08:00",
		Timezone:       "UTC",
		DeliveryMethod: "email",
		ExportFormat:   "csv",
	}
}

func testSchedule(reportID uuid.UUID, nextRun *time.Time) domain.ScheduledReport {
	return domain.ScheduledReport{
		ID:        uuid.New(),
		ReportID:  reportID,
		Spec:      dailySpec(),
		NextRunAt: nextRun,
		Status:    domain.ScheduleActive,
	}
}

func testReport() *domain.SavedReport {
	return &domain.SavedReport{
		ID: uuid.New(),
		Configuration: domain.ReportConfiguration{
			ID:           uuid.New(),
			Name:         "Daily revenue",
			DataSourceID: "orders",
		},
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// --- ComputeNextRun ---

func TestComputeNextRun_Daily_SameDayIfBeforeTime(t *testing.T) {
	spec := dailySpec()
	from := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Daily_NextDayIfPastTime(t *testing.T) {
	spec := dailySpec()
	from := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Daily_ExactTime_AdvancesToNextDay(t *testing.T) {
	spec := dailySpec()
	from := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	// Strictly after from: an occurrence at exactly from does not count.
	assert.Equal(t, time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Weekly_TargetWeekday(t *testing.T) {
	dow := 1 // Monday
	spec := dailySpec()
	spec.Frequency = domain.FreqWeekly
	spec.DayOfWeek = &dow
	// 2026-08-28 is a Friday.
	from := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestComputeNextRun_Weekly_SameWeekdayPastTime_AdvancesAWeek(t *testing.T) {
	dow := 5 // Friday
	spec := dailySpec()
	spec.Frequency = domain.FreqWeekly
	spec.DayOfWeek = &dow
	from := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) // Friday, past 08:00

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 4, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Monthly_ClampsDayToMonthEnd(t *testing.T) {
	day := 31
	spec := dailySpec()
	spec.Frequency = domain.FreqMonthly
	spec.DayOfMonth = &day
	from := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC) // past 08:00 on Jan 31

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	// February 2026 has 28 days: day 31 clamps to the 28th.
	assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Monthly_SameMonthIfNotYetDue(t *testing.T) {
	day := 15
	spec := dailySpec()
	spec.Frequency = domain.FreqMonthly
	spec.DayOfMonth = &day
	from := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 15, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Quarterly_NextQuarterOpening(t *testing.T) {
	day := 1
	spec := dailySpec()
	spec.Frequency = domain.FreqQuarterly
	spec.DayOfMonth = &day
	from := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) // Q3, past Jul 1

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRun_Timezone_ComputedInScheduleZone(t *testing.T) {
	spec := dailySpec()
	spec.Timezone = "America/New_York"
	// 11:00 UTC on 2026-08-28 is 07:00 in New York (EDT, UTC-4): the 08:00
	// local occurrence is still ahead that same day.
	from := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextRun_InvalidTimezone_ReturnsError(t *testing.T) {
	spec := dailySpec()
	spec.Timezone = "Not/AZone"

	_, err := ComputeNextRun(spec, time.Now())

	assert.Error(t, err)
}

func TestComputeNextRun_InvalidTime_ReturnsError(t *testing.T) {
	spec := dailySpec()
	spec.Time = "25:99"

	_, err := ComputeNextRun(spec, time.Now())

	assert.Error(t, err)
}

func TestComputeNextRun_CronOverride_TakesPrecedence(t *testing.T) {
	spec := dailySpec()
	spec.CronExpr = "*/15 * * * *"
	from := time.Date(2026, 8, 28, 10, 7, 0, 0, time.UTC)

	next, err := ComputeNextRun(spec, from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC), next)
}

func TestComputeNextRun_InvalidCron_ReturnsError(t *testing.T) {
	spec := dailySpec()
	spec.CronExpr = "not a cron"

	_, err := ComputeNextRun(spec, time.Now())

	assert.Error(t, err)
}

func TestComputeNextRun_UnknownFrequency_ReturnsError(t *testing.T) {
	spec := dailySpec()
	spec.Frequency = "fortnightly"

	_, err := ComputeNextRun(spec, time.Now())

	assert.Error(t, err)
}

// --- Tick ---

func TestTick_DueSchedule_ExecutesAndAdvances(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	schedules := newMockScheduleStore(sched)
	reports := newMockReportStore(report)
	history := &mockHistoryStore{}
	exec := &mockExecutor{}

	s := New(schedules, reports, history, exec, time.Minute, WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 1, exec.callCount())
	require.Len(t, exec.refresh, 1)
	assert.True(t, exec.refresh[0], "scheduled runs must force a refresh")

	update, ok := schedules.lastUpdate(sched.ID)
	require.True(t, ok)
	require.NotNil(t, update.LastRunAt)
	assert.Equal(t, now, *update.LastRunAt)
	require.NotNil(t, update.NextRunAt)
	assert.Equal(t, time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC), *update.NextRunAt)
	require.NotNil(t, update.Status)
	assert.Equal(t, domain.ScheduleActive, *update.Status)

	items, _ := history.ListHistory(context.Background(), report.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DeliverySuccess, items[0].DeliveryStatus)
	assert.Equal(t, report.ID, items[0].ReportID)
	require.NotNil(t, items[0].ScheduleID)
	assert.Equal(t, sched.ID, *items[0].ScheduleID)
	assert.NotNil(t, items[0].ResultID)

	reports.mu.Lock()
	_, touched := reports.touched[report.ID]
	reports.mu.Unlock()
	assert.True(t, touched, "last generated timestamp should advance")
}

func TestTick_NotDue_DoesNotExecute(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	sched := testSchedule(report.ID, &future)

	schedules := newMockScheduleStore(sched)
	exec := &mockExecutor{}

	s := New(schedules, newMockReportStore(report), &mockHistoryStore{}, exec, time.Minute,
		WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 0, exec.callCount())
	_, updated := schedules.lastUpdate(sched.ID)
	assert.False(t, updated)
}

func TestTick_PausedSchedule_Skipped(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)
	sched.Status = domain.SchedulePaused
	sched.Spec.Enabled = false

	exec := &mockExecutor{}
	s := New(newMockScheduleStore(sched), newMockReportStore(report), &mockHistoryStore{}, exec,
		time.Minute, WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 0, exec.callCount())
}

func TestTick_NilNextRun_InitializesWithoutFiring(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	sched := testSchedule(report.ID, nil)

	schedules := newMockScheduleStore(sched)
	exec := &mockExecutor{}

	s := New(schedules, newMockReportStore(report), &mockHistoryStore{}, exec, time.Minute,
		WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 0, exec.callCount(), "first tick only initializes next_run_at")

	update, ok := schedules.lastUpdate(sched.ID)
	require.True(t, ok)
	require.NotNil(t, update.NextRunAt)
	assert.Equal(t, time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC), *update.NextRunAt)
	assert.Nil(t, update.LastRunAt)
}

func TestTick_InFlightRun_NotFiredTwice(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	block := make(chan struct{})
	exec := &mockExecutor{block: block}

	s := New(newMockScheduleStore(sched), newMockReportStore(report), &mockHistoryStore{}, exec,
		time.Minute, WithClock(func() time.Time { return now }))

	s.Tick(context.Background())
	waitFor(t, func() bool { return exec.callCount() == 1 })

	// Second tick while the first run is still blocked.
	s.Tick(context.Background())
	assert.Equal(t, 1, exec.callCount(), "in-flight schedule must not fire again")

	close(block)
	s.wg.Wait()
}

func TestTick_ExecutionFailure_RecordsErrorAndStillAdvances(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	schedules := newMockScheduleStore(sched)
	history := &mockHistoryStore{}
	exec := &mockExecutor{err: errors.New("source offline")}

	s := New(schedules, newMockReportStore(report), history, exec, time.Minute,
		WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	items, _ := history.ListHistory(context.Background(), report.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DeliveryError, items[0].DeliveryStatus)
	assert.Contains(t, items[0].ErrorMessage, "source offline")
	assert.Nil(t, items[0].ResultID)

	update, ok := schedules.lastUpdate(sched.ID)
	require.True(t, ok)
	require.NotNil(t, update.Status)
	assert.Equal(t, domain.ScheduleError, *update.Status)
	require.NotNil(t, update.ErrorMessage)
	assert.Contains(t, *update.ErrorMessage, "source offline")
	// Failed runs still get a retry slot.
	assert.NotNil(t, update.NextRunAt)
}

func TestTick_DeliveryFailure_MarksRunButKeepsResult(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	schedules := newMockScheduleStore(sched)
	history := &mockHistoryStore{}
	reports := newMockReportStore(report)
	exec := &mockExecutor{}
	deliverer := &mockDeliverer{err: errors.New("smtp refused")}

	s := New(schedules, reports, history, exec, time.Minute,
		WithClock(func() time.Time { return now }), WithDeliverer(deliverer))
	s.Tick(context.Background())
	s.wg.Wait()

	items, _ := history.ListHistory(context.Background(), report.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DeliveryError, items[0].DeliveryStatus)
	// The result itself was produced fine.
	assert.NotNil(t, items[0].ResultID)

	reports.mu.Lock()
	_, touched := reports.touched[report.ID]
	reports.mu.Unlock()
	assert.True(t, touched, "produced result still advances last generated")

	update, ok := schedules.lastUpdate(sched.ID)
	require.True(t, ok)
	require.NotNil(t, update.Status)
	assert.Equal(t, domain.ScheduleError, *update.Status)
}

func TestTick_SuccessfulDelivery_CallsDeliverer(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	history := &mockHistoryStore{}
	deliverer := &mockDeliverer{}

	s := New(newMockScheduleStore(sched), newMockReportStore(report), history, &mockExecutor{},
		time.Minute, WithClock(func() time.Time { return now }), WithDeliverer(deliverer))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 1, deliverer.calls)
	items, _ := history.ListHistory(context.Background(), report.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DeliverySuccess, items[0].DeliveryStatus)
}

func TestTick_MissingReport_SkipsWithoutHistory(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(uuid.New(), &due) // report does not exist

	history := &mockHistoryStore{}
	exec := &mockExecutor{}

	s := New(newMockScheduleStore(sched), newMockReportStore(), history, exec, time.Minute,
		WithClock(func() time.Time { return now }))
	s.Tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, 0, exec.callCount())
	assert.Empty(t, history.items)
}

func TestTick_CancelledRun_LeavesNoTrace(t *testing.T) {
	report := testReport()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	schedules := newMockScheduleStore(sched)
	history := &mockHistoryStore{}
	block := make(chan struct{})
	exec := &mockExecutor{block: block}

	s := New(schedules, newMockReportStore(report), history, exec, time.Minute,
		WithClock(func() time.Time { return now }))

	ctx, cancel := context.WithCancel(context.Background())
	s.Tick(ctx)
	waitFor(t, func() bool { return exec.callCount() == 1 })
	cancel()
	s.wg.Wait()

	// Shutdown mid-run is not a failure: no history, schedule untouched.
	assert.Empty(t, history.items)
	_, updated := schedules.lastUpdate(sched.ID)
	assert.False(t, updated)
}

func TestStartStop_FiresOnInterval(t *testing.T) {
	report := testReport()
	due := time.Now().Add(-time.Minute)
	sched := testSchedule(report.ID, &due)

	exec := &mockExecutor{}
	s := New(newMockScheduleStore(sched), newMockReportStore(report), &mockHistoryStore{}, exec,
		10*time.Millisecond)

	s.Start(context.Background())
	waitFor(t, func() bool { return exec.callCount() >= 1 })
	s.Stop()
}
