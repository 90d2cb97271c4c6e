package telemetry

import (
	"context"

	"codeberg.org/mutker/modemtemp/internal/metrics"
	"codeberg.org/mutker/modemtemp/internal/stats"
)

// StatsSource is read on every scrape
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// HistorySource serves /api/history
type HistorySource interface {
	Recent(ctx context.Context, n int) ([]metrics.Sample, error)
}
