package service

import (
	"context"
	"fmt"
	"time"

	"cardiotwin/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IdleSweeper 可被定时清理的会话集合
type IdleSweeper interface {
	SweepIdleSessions(ctx context.Context) []models.SessionSummary
}

// SessionSweeper 按计划结束空闲会话
type SessionSweeper struct {
	schedule string
	target   IdleSweeper
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewSessionSweeper 创建空闲会话清理器，schedule 为 cron 表达式（支持 "@every 1m"）
func NewSessionSweeper(schedule string, target IdleSweeper, logger *zap.Logger) *SessionSweeper {
	return &SessionSweeper{
		schedule: schedule,
		target:   target,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start 注册任务并启动调度，ctx 取消后停止
func (s *SessionSweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to register sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Session sweeper started", zap.String("schedule", s.schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *SessionSweeper) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("Session sweeper stop timed out")
	}
}

// RunOnce 执行一次清理
func (s *SessionSweeper) RunOnce(ctx context.Context) int {
	ended := s.target.SweepIdleSessions(ctx)
	for _, sum := range ended {
		s.logger.Info("Idle session ended",
			zap.String("session_id", sum.SessionID),
			zap.String("phase", string(sum.Phase)),
			zap.Int("scored_readings", sum.ScoredReadings),
			zap.String("duration", sum.Duration),
		)
	}
	return len(ended)
}
