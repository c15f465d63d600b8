package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/postgres"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set (so plain `go test` stays fast).
// It runs migrations and cleans all tables before returning.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cleanTables(t, pool)

	return pool
}

// cleanTables truncates all tables between tests.
func cleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	// Order matters: FK constraints
	tables := []string{
		"report_history", "scheduled_reports", "report_templates", "saved_reports",
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// testConfiguration is a minimal valid configuration for store round-trips.
func testConfiguration() domain.ReportConfiguration {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.ReportConfiguration{
		ID:           uuid.New(),
		Name:         "Revenue by status",
		DataSourceID: "orders",
		TimeFrame:    domain.TimeFrameMonth,
		ChartType:    domain.ChartBar,
		Dimensions: []domain.DimensionSelection{
			{ID: uuid.New(), Field: "status", GroupBy: true},
		},
		Metrics: []domain.MetricSelection{
			{ID: uuid.New(), Field: "total", Aggregation: domain.AggSum},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func createTestReport(t *testing.T, store *postgres.ReportStore) *domain.SavedReport {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	report := &domain.SavedReport{
		ID:            uuid.New(),
		Configuration: testConfiguration(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateReport(context.Background(), report))
	return report
}

func testSpec() domain.ScheduleSpec {
	return domain.ScheduleSpec{
		Enabled:        true,
		Frequency:      domain.FreqDaily,
		Time:           "08:00",
		Timezone:       "UTC",
		Recipients:     []string{"ops@example.com"},
		DeliveryMethod: "email",
		ExportFormat:   "csv",
	}
}

func createTestSchedule(t *testing.T, store *postgres.ScheduleStore, reportID uuid.UUID) *domain.ScheduledReport {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	sched := &domain.ScheduledReport{
		ID:        uuid.New(),
		ReportID:  reportID,
		Spec:      testSpec(),
		Status:    domain.ScheduleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), sched))
	return sched
}
