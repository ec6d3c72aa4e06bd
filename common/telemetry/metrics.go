package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// MetricsConfig OTLP 指标导出配置
type MetricsConfig struct {
	Endpoint string        // OTLP gRPC 地址，如 "localhost:4317"；为空时不导出
	Insecure bool          // 不使用 TLS
	Interval time.Duration // 推送间隔，默认 10s
}

// ShutdownFunc 刷新并关闭指标导出
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// NewResource 服务资源属性（不带 schema URL，避免与 SDK 默认资源的 schema 版本冲突）
func NewResource(serviceName string) (*sdkresource.Resource, error) {
	return sdkresource.Merge(sdkresource.Default(), sdkresource.NewSchemaless(
		semconv.ServiceName(serviceName),
		attribute.String("service", serviceName),
	))
}

// NewMeterProvider 用给定 reader 构建 MeterProvider
func NewMeterProvider(serviceName string, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res, err := NewResource(serviceName); err == nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// InitMetrics 安装全局 OTLP 指标导出（周期推送），返回关闭函数。
// 未配置地址或导出器创建失败时保留全局 no-op provider，不影响服务启动。
func InitMetrics(ctx context.Context, serviceName string, cfg MetricsConfig, logger *zap.Logger) ShutdownFunc {
	if cfg.Endpoint == "" {
		logger.Info("Metrics export disabled, no OTLP endpoint configured")
		return noopShutdown
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctxInit, opts...)
	if err != nil {
		logger.Warn("Metrics exporter init failed", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		return noopShutdown
	}

	mp := NewMeterProvider(serviceName, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	otel.SetMeterProvider(mp)
	logger.Info("Metrics initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.Duration("interval", interval),
	)

	return func(ctx context.Context) error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
		return nil
	}
}
