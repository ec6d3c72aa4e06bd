package service

import (
	"context"

	"cardiotwin/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics 引擎计数器（全局 MeterProvider 未安装 SDK 时为 no-op）
type engineMetrics struct {
	readings      metric.Int64Counter
	alerts        metric.Int64Counter
	nudges        metric.Int64Counter
	sessionsEnded metric.Int64Counter
}

func newEngineMetrics(provider metric.MeterProvider) *engineMetrics {
	meter := provider.Meter("cardiotwin")
	readings, _ := meter.Int64Counter("cardiotwin_readings_total",
		metric.WithDescription("Readings processed by status"))
	alerts, _ := meter.Int64Counter("cardiotwin_alerts_total",
		metric.WithDescription("Scored readings that raised an alert"))
	nudges, _ := meter.Int64Counter("cardiotwin_nudges_total",
		metric.WithDescription("Nudges delivered by channel"))
	sessionsEnded, _ := meter.Int64Counter("cardiotwin_sessions_ended_total",
		metric.WithDescription("Sessions ended explicitly or by idle sweep"))
	return &engineMetrics{
		readings:      readings,
		alerts:        alerts,
		nudges:        nudges,
		sessionsEnded: sessionsEnded,
	}
}

func (m *engineMetrics) recordReading(ctx context.Context, res *models.ProcessResult) {
	m.readings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	if res.Result != nil && res.Result.Alert {
		m.alerts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", res.Result.AlertCode),
			attribute.String("severity", string(res.Result.AlertSeverity)),
		))
	}
}

func (m *engineMetrics) recordNudge(ctx context.Context, nudge *models.NudgeRecord) {
	m.nudges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", nudge.Channel),
		attribute.String("source", nudge.Source),
		attribute.Bool("delivered", nudge.Delivered),
	))
}

func (m *engineMetrics) recordSessionEnded(ctx context.Context, reason string) {
	m.sessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
