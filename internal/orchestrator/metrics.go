package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pipesync/orchestrator"

type syncMetrics struct {
	saves        metric.Int64Counter
	failures     metric.Int64Counter
	suppressed   metric.Int64Counter
	saveDuration metric.Float64Histogram
}

func newSyncMetrics(meter metric.Meter) (*syncMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	saves, err := meter.Int64Counter("pipesync.sync.saves",
		metric.WithDescription("Successful remote saves"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("pipesync.sync.save_failures",
		metric.WithDescription("Failed remote saves"))
	if err != nil {
		return nil, err
	}
	suppressed, err := meter.Int64Counter("pipesync.sync.suppressed",
		metric.WithDescription("Changes skipped because the remote already holds them"))
	if err != nil {
		return nil, err
	}
	saveDuration, err := meter.Float64Histogram("pipesync.sync.save_duration",
		metric.WithDescription("Remote save latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &syncMetrics{
		saves:        saves,
		failures:     failures,
		suppressed:   suppressed,
		saveDuration: saveDuration,
	}, nil
}

func (m *syncMetrics) recordSave(ctx context.Context, took time.Duration, err error) {
	m.saveDuration.Record(ctx, float64(took.Microseconds())/1000)
	if err != nil {
		m.failures.Add(ctx, 1)
		return
	}
	m.saves.Add(ctx, 1)
}
