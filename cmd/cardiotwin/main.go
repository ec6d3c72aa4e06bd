package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardiotwin/common/logger"
	"cardiotwin/common/telemetry"
	"cardiotwin/internal/config"
	httpapi "cardiotwin/internal/http"
	"cardiotwin/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cardiotwin")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 指标导出（未配置 OTLP 地址时为 no-op）
	shutdownMetrics := telemetry.InitMetrics(context.Background(), "cardiotwin", telemetry.MetricsConfig{
		Endpoint: cfg.Metrics.OTLPEndpoint,
		Insecure: cfg.Metrics.Insecure,
		Interval: time.Duration(cfg.Metrics.IntervalSec) * time.Second,
	}, log)

	// 4. 创建服务
	app, err := service.NewCardioTwinService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create cardiotwin service", zap.Error(err))
	}

	// 5. HTTP API
	router := httpapi.NewRouter(log)
	router.RegisterMonitorRoutes(httpapi.NewMonitorHandler(app.Monitor(), log))
	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	// 6. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := app.Start(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("Service error, shutting down", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := app.Stop(); err != nil {
		log.Warn("Service shutdown failed", zap.Error(err))
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		log.Warn("Metrics shutdown failed", zap.Error(err))
	}

	log.Info("CardioTwin service stopped")
}
