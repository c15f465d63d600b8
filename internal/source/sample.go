package source

import "github.com/reportd-data/reportd/internal/domain"

// SampleOrders returns the demo row set served for the built-in "orders"
// source in zero-config mode. Deterministic so a fresh install always shows
// the same numbers.
func SampleOrders() []domain.Row {
	statuses := []string{"completed", "completed", "completed", "pending", "cancelled"}
	regions := []string{"north", "south", "east", "west"}
	dates := []string{
		"2026-08-01", "2026-08-03", "2026-08-05", "2026-08-08", "2026-08-10",
		"2026-08-12", "2026-08-15", "2026-08-18", "2026-08-21", "2026-08-24",
	}

	rows := make([]domain.Row, 0, 40)
	for i := 0; i < 40; i++ {
		rows = append(rows, domain.Row{
			"status":     statuses[i%len(statuses)],
			"region":     regions[i%len(regions)],
			"created_at": dates[i%len(dates)],
			"total":      float64(20 + (i*37)%480),
			"quantity":   float64(1 + i%7),
		})
	}
	return rows
}
