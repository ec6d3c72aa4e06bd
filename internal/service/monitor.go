package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardiotwin/internal/config"
	"cardiotwin/internal/consumer"
	"cardiotwin/internal/engine"
	"cardiotwin/internal/export"
	"cardiotwin/internal/models"
	"cardiotwin/internal/notifier"
	"cardiotwin/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var (
	// ErrNoData 会话尚无可返回的数据
	ErrNoData = errors.New("no data for session")
	// ErrInvalidRequest 请求参数错误
	ErrInvalidRequest = errors.New("invalid request")
)

// Repositories 持久化仓库（数据库未启用时全部为 nil）
type Repositories struct {
	Sessions    *repository.SessionsRepository
	Readings    *repository.ReadingsRepository
	Baselines   *repository.BaselinesRepository
	AlertEvents *repository.AlertEventsRepository
}

// SessionStarted 开始会话的返回
type SessionStarted struct {
	Status    string          `json:"status"`
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id"`
	Language  models.Language `json:"language"`
	Created   bool            `json:"created"`
}

// SessionEnded 结束会话的返回
type SessionEnded struct {
	Status    string                 `json:"status"`
	SessionID string                 `json:"session_id"`
	Summary   *models.SessionSummary `json:"summary"`
}

// AlertSent 手动发送结果
type AlertSent struct {
	Status  string `json:"status"` // sent, failed
	Channel string `json:"channel"`
}

// MonitorService 实时监测服务：引擎 + 缓存 + 持久化 + 报警分发。
// 同一会话的读数处理、开始和结束在会话锁内串行执行，缓存、快照和数据库写入顺序与引擎状态一致。
type MonitorService struct {
	config      *config.Config
	engine      *engine.Engine
	redisClient *redis.Client
	logger      *zap.Logger
	locks       *sessionLocks

	// 各层组件
	cacheManager *consumer.CacheManager
	stateManager *consumer.StateManager
	composer     *notifier.NudgeComposer
	sender       *notifier.TwilioSender
	dispatcher   *notifier.AlertDispatcher
	repos        Repositories
	metrics      *engineMetrics
}

// NewMonitorService 创建监测服务
func NewMonitorService(
	cfg *config.Config,
	redisClient *redis.Client,
	repos Repositories,
	logger *zap.Logger,
) *MonitorService {
	s := &MonitorService{
		config:       cfg,
		engine:       engine.New(cfg.EngineConfig(), logger.Named("engine")),
		redisClient:  redisClient,
		logger:       logger,
		cacheManager: consumer.NewCacheManager(cfg, consumer.NewRedisKVStore(redisClient), logger),
		stateManager: consumer.NewStateManager(cfg, redisClient, logger),
		composer:     notifier.NewNudgeComposer(cfg, logger),
		sender:       notifier.NewTwilioSender(cfg, logger),
		repos:        repos,
		locks:        newSessionLocks(),
		metrics:      newEngineMetrics(otel.GetMeterProvider()),
	}

	opts := notifier.DispatcherOptions{
		Workers:    cfg.Nudge.Workers,
		QueueSize:  cfg.Nudge.QueueSize,
		JobTimeout: time.Duration(cfg.Nudge.DeliveryTimeout) * time.Second,
	}
	s.dispatcher = notifier.NewAlertDispatcher(s.stateManager, s.cacheManager, s, s.composer, opts, logger).
		WithSender(s.sender).
		OnDelivered(func(ctx context.Context, record *models.NudgeRecord) {
			s.metrics.recordNudge(ctx, record)
		})
	if repos.AlertEvents != nil {
		s.dispatcher.WithRecorder(repos.AlertEvents)
	}
	s.dispatcher.Start()
	return s
}

// Close 等待进行中的报警投递完成
func (s *MonitorService) Close() {
	s.dispatcher.Stop()
}

// WithDevice 启用设备震动提醒（MQTT 已连接时）
func (s *MonitorService) WithDevice(device *notifier.DeviceCommander) *MonitorService {
	if device != nil {
		s.dispatcher.WithDevice(device)
	}
	return s
}

// RestoreSessions 从 Redis 快照恢复进程重启前的会话
func (s *MonitorService) RestoreSessions(ctx context.Context) (int, error) {
	ids, err := s.stateManager.ListSnapshotSessionIDs(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, id := range ids {
		snap, err := s.stateManager.LoadSnapshot(ctx, id)
		if err != nil || snap == nil {
			s.logger.Warn("Failed to load session snapshot", zap.String("session_id", id), zap.Error(err))
			continue
		}
		ok, err := s.engine.Restore(*snap)
		if err != nil {
			s.logger.Error("Discarding invalid session snapshot", zap.String("session_id", id), zap.Error(err))
			_ = s.stateManager.DeleteSession(ctx, id)
			continue
		}
		if ok {
			restored++
		}
	}

	s.logger.Info("Sessions restored from snapshots", zap.Int("count", restored))
	return restored, nil
}

// StartSession 开始会话（重复调用幂等，电话号码和语言会被更新）。
// 不支持的语言代码回退英语。
func (s *MonitorService) StartSession(ctx context.Context, sessionID string, userPhone *string, language string) (*SessionStarted, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	lang, ok := models.ParseLanguage(language)
	if !ok {
		s.logger.Warn("Unsupported language, using English",
			zap.String("session_id", sessionID),
			zap.String("language", language),
		)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	created, err := s.engine.StartSession(sessionID)
	if err != nil {
		return nil, err
	}
	runID, err := s.engine.RunID(sessionID)
	if err != nil {
		return nil, err
	}

	if userPhone != nil && *userPhone != "" {
		if err := s.cacheManager.SetPhone(ctx, sessionID, *userPhone); err != nil {
			s.logger.Warn("Failed to cache phone", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if err := s.cacheManager.SetLanguage(ctx, sessionID, lang); err != nil {
		s.logger.Warn("Failed to cache language", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := s.registerSession(ctx, models.SessionInfo{
		SessionID: sessionID,
		RunID:     runID,
		UserPhone: userPhone,
		Language:  lang,
	}); err != nil {
		return nil, err
	}
	s.saveSnapshot(ctx, sessionID)

	return &SessionStarted{
		Status:    "session_started",
		SessionID: sessionID,
		RunID:     runID,
		Language:  lang,
		Created:   created,
	}, nil
}

// HandleReading 处理一条读数（HTTP 与 Stream 消费者共用）
func (s *MonitorService) HandleReading(ctx context.Context, raw models.RawReading) (*models.ProcessResult, error) {
	raw.SessionID = strings.TrimSpace(raw.SessionID)
	if raw.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}

	unlock := s.locks.Lock(raw.SessionID)
	defer unlock()

	_, err := s.engine.RunID(raw.SessionID)
	isNew := errors.Is(err, engine.ErrSessionNotFound)

	res, err := s.engine.ProcessReading(raw.SessionID, raw)
	if err != nil {
		return nil, err
	}
	s.metrics.recordReading(ctx, res)

	if isNew {
		// 未调用 StartSession 的会话在第一条读数时登记
		if err := s.registerSession(ctx, models.SessionInfo{SessionID: res.SessionID, RunID: res.RunID}); err != nil {
			s.logger.Error("Failed to register session", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}

	if res.Baseline != nil && s.repos.Baselines != nil {
		if _, err := s.repos.Baselines.SaveBaseline(ctx, res.SessionID, res.RunID, *res.Baseline); err != nil {
			s.logger.Error("Failed to save baseline", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}

	if res.Status == models.StatusScored {
		queued, err := s.dispatcher.Dispatch(ctx, res)
		if err != nil {
			s.logger.Error("Failed to dispatch alert", zap.String("session_id", res.SessionID), zap.Error(err))
		}
		res.Result.NudgeSent = queued
	}

	if s.repos.Readings != nil {
		if err := s.repos.Readings.InsertReading(ctx, repository.NewReadingRecord(raw, res)); err != nil {
			s.logger.Error("Failed to store reading", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}

	switch res.Status {
	case models.StatusRejected:
		// 拒绝的读数不改变会话状态，也不覆盖最新结果
	default:
		if err := s.cacheManager.SetLatestResult(ctx, res.SessionID, res); err != nil {
			s.logger.Warn("Failed to cache latest result", zap.String("session_id", res.SessionID), zap.Error(err))
		}
		s.saveSnapshot(ctx, res.SessionID)
	}

	return res, nil
}

// LatestScore 最新处理结果；缓存失效时从引擎状态重建
func (s *MonitorService) LatestScore(ctx context.Context, sessionID string) (*models.ProcessResult, error) {
	res, err := s.cacheManager.GetLatestResult(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to read latest result cache", zap.String("session_id", sessionID), zap.Error(err))
	}
	if res != nil {
		return res, nil
	}

	snap, err := s.engine.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	cfg := s.engine.Config()
	switch snap.Phase {
	case models.PhaseCalibrating:
		return &models.ProcessResult{Status: models.StatusCalibrating, SessionID: sessionID,
			ReadingsCollected: len(snap.CalibrationBuffer), ReadingsNeeded: cfg.CalibrationThreshold}, nil
	case models.PhaseCalibratingExtended:
		return &models.ProcessResult{Status: models.StatusCalibrating, SessionID: sessionID,
			ReadingsCollected: len(snap.CalibrationBuffer), ReadingsNeeded: cfg.ExtendedThreshold}, nil
	case models.PhaseFailed:
		return &models.ProcessResult{Status: models.StatusCalibrationFailed, SessionID: sessionID, Reason: snap.FailureReason}, nil
	}

	if len(snap.History) == 0 || snap.Baseline == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoData, sessionID)
	}
	last := snap.History[len(snap.History)-1]
	return &models.ProcessResult{
		Status:    models.StatusScored,
		SessionID: sessionID,
		Result: &models.ScoredResult{
			SessionID:      sessionID,
			Timestamp:      last.Timestamp,
			CompositeScore: last.Score,
			Zone:           last.Zone,
			ZoneLabel:      last.Zone.Label(),
			ZoneEmoji:      last.Zone.Emoji(),
			AlertSeverity:  models.SeverityNone,
			Baseline:       *snap.Baseline,
		},
	}, nil
}

// History 得分历史；会话已不在内存时回退到数据库
func (s *MonitorService) History(ctx context.Context, sessionID string) ([]models.ScorePoint, error) {
	history, err := s.engine.History(sessionID)
	if err == nil {
		return history, nil
	}
	if !errors.Is(err, engine.ErrSessionNotFound) || s.repos.Readings == nil {
		return nil, err
	}
	runID, dbErr := s.lastRunID(ctx, sessionID)
	if dbErr != nil {
		return nil, dbErr
	}
	if runID == "" {
		return nil, err
	}
	history, dbErr = s.repos.Readings.ListScoredHistory(ctx, sessionID, runID, s.engine.Config().HistoryLimit)
	if dbErr != nil {
		return nil, dbErr
	}
	if len(history) == 0 {
		return nil, err
	}
	return history, nil
}

// ExportHistory 导出得分历史 Excel
func (s *MonitorService) ExportHistory(ctx context.Context, sessionID string) ([]byte, error) {
	history, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var baseline *models.Baseline
	if snap, err := s.engine.Snapshot(sessionID); err == nil {
		baseline = snap.Baseline
	} else if s.repos.Baselines != nil {
		runID, err := s.lastRunID(ctx, sessionID)
		if err == nil && runID != "" {
			baseline, err = s.repos.Baselines.GetBaseline(ctx, sessionID, runID)
		}
		if err != nil {
			s.logger.Warn("Failed to load baseline for export", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	return export.GenerateHistoryWorkbook(export.HistoryExport{
		SessionID: sessionID,
		History:   history,
		Baseline:  baseline,
	})
}

// Predict 风险预测（可选情景）
func (s *MonitorService) Predict(ctx context.Context, sessionID string, days int, scenario string) (*models.Projection, error) {
	p, err := s.engine.ProjectRisk(sessionID, days, scenario)
	if err == nil || !errors.Is(err, engine.ErrSessionNotFound) {
		return p, err
	}

	// 会话已结束：使用数据库中的历史
	history, herr := s.History(ctx, sessionID)
	if herr != nil {
		return nil, err
	}
	p, err = engine.Project(history, days, s.engine.Config().ReadingIntervalMs)
	if err != nil {
		return nil, err
	}
	p.SessionID = sessionID
	engine.ApplyScenario(p, scenario)
	return p, nil
}

// Nudge 最近一次推送；尚未推送时按当前区间即时生成（不下发）
func (s *MonitorService) Nudge(ctx context.Context, sessionID string) (*models.NudgeRecord, error) {
	nudge, err := s.cacheManager.GetNudge(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to read nudge cache", zap.String("session_id", sessionID), zap.Error(err))
	}
	if nudge != nil {
		return nudge, nil
	}

	latest, err := s.LatestScore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if latest.Result == nil {
		return nil, fmt.Errorf("%w: session %s has no score yet", ErrNoData, sessionID)
	}
	r := latest.Result
	lang, err := s.GetLanguage(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to look up language", zap.String("session_id", sessionID), zap.Error(err))
		lang = models.LanguageEnglish
	}
	message, source := s.composer.Compose(ctx, notifier.NudgeRequest{
		SessionID:   sessionID,
		Score:       r.CompositeScore,
		Zone:        r.Zone,
		AlertReason: r.AlertReason,
		Components:  r.Components,
		Language:    lang,
	})
	return &models.NudgeRecord{
		SessionID: sessionID,
		Message:   message,
		Source:    source,
		Language:  lang,
		Zone:      r.Zone,
		ZoneLabel: r.Zone.Label(),
		Score:     r.CompositeScore,
		Severity:  r.AlertSeverity,
		Channel:   notifier.ChannelNone,
		CreatedAt: time.Now(),
	}, nil
}

// SendAlert 手动发送短信或 WhatsApp
func (s *MonitorService) SendAlert(ctx context.Context, channel, to, message string) (*AlertSent, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel != notifier.ChannelSMS && channel != notifier.ChannelWhatsApp {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, notifier.ErrUnknownChannel)
	}
	if to == "" || message == "" {
		return nil, fmt.Errorf("%w: to_phone and message are required", ErrInvalidRequest)
	}

	if _, err := s.sender.Send(ctx, channel, to, message); err != nil {
		s.logger.Warn("Manual alert failed", zap.String("channel", channel), zap.Error(err))
		return &AlertSent{Status: "failed", Channel: channel}, nil
	}
	return &AlertSent{Status: "sent", Channel: channel}, nil
}

// AlertEvents 会话当前（或最近一次）生命周期的报警事件（需要数据库）
func (s *MonitorService) AlertEvents(ctx context.Context, sessionID string, limit int) ([]*models.AlertEvent, error) {
	if s.repos.AlertEvents == nil {
		return []*models.AlertEvent{}, nil
	}
	runID, err := s.lastRunID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return []*models.AlertEvent{}, nil
	}
	events, err := s.repos.AlertEvents.ListBySession(ctx, sessionID, runID, limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.AlertEvent{}
	}
	return events, nil
}

// EndSession 结束会话，清理缓存和快照
func (s *MonitorService) EndSession(ctx context.Context, sessionID string) (*SessionEnded, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	summary, err := s.engine.EndSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.cleanup(ctx, sessionID, summary.RunID)
	s.metrics.recordSessionEnded(ctx, "explicit")
	return &SessionEnded{Status: "session_ended", SessionID: sessionID, Summary: summary}, nil
}

// SweepIdleSessions 结束空闲超时的会话
func (s *MonitorService) SweepIdleSessions(ctx context.Context) []models.SessionSummary {
	ended := s.engine.SweepIdle(s.config.IdleTimeout())
	for _, sum := range ended {
		unlock := s.locks.Lock(sum.SessionID)
		s.cleanup(ctx, sum.SessionID, sum.RunID)
		unlock()
		s.metrics.recordSessionEnded(ctx, "idle")
	}
	return ended
}

// GetPhone 会话联系电话：先查缓存，再查数据库
func (s *MonitorService) GetPhone(ctx context.Context, sessionID string) (string, error) {
	phone, err := s.cacheManager.GetPhone(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if phone != "" || s.repos.Sessions == nil {
		return phone, nil
	}

	info, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if info == nil || info.UserPhone == nil {
		return "", nil
	}
	if err := s.cacheManager.SetPhone(ctx, sessionID, *info.UserPhone); err != nil {
		s.logger.Warn("Failed to cache phone", zap.String("session_id", sessionID), zap.Error(err))
	}
	return *info.UserPhone, nil
}

// GetLanguage 会话推送语言：先查缓存，再查数据库，默认英语
func (s *MonitorService) GetLanguage(ctx context.Context, sessionID string) (models.Language, error) {
	lang, err := s.cacheManager.GetLanguage(ctx, sessionID)
	if err != nil {
		return models.LanguageEnglish, err
	}
	if lang.Valid() {
		return lang, nil
	}
	if s.repos.Sessions == nil {
		return models.LanguageEnglish, nil
	}

	info, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return models.LanguageEnglish, err
	}
	if info == nil || !info.Language.Valid() {
		return models.LanguageEnglish, nil
	}
	if err := s.cacheManager.SetLanguage(ctx, sessionID, info.Language); err != nil {
		s.logger.Warn("Failed to cache language", zap.String("session_id", sessionID), zap.Error(err))
	}
	return info.Language, nil
}

// lastRunID 会话当前生命周期的 run id；会话已不在内存时取数据库中最近一次，都没有返回空字符串
func (s *MonitorService) lastRunID(ctx context.Context, sessionID string) (string, error) {
	if runID, err := s.engine.RunID(sessionID); err == nil {
		return runID, nil
	}
	if s.repos.Sessions == nil {
		return "", nil
	}
	info, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.RunID, nil
}

func (s *MonitorService) registerSession(ctx context.Context, info models.SessionInfo) error {
	if s.repos.Sessions == nil {
		return nil
	}
	return s.repos.Sessions.UpsertSession(ctx, info)
}

// cleanup 清理已结束生命周期的状态（调用方需持有会话锁）。
// 同名会话已开始新的生命周期时只标记数据库结束时间，不删除新生命周期的缓存和快照。
func (s *MonitorService) cleanup(ctx context.Context, sessionID, runID string) {
	if current, err := s.engine.RunID(sessionID); err != nil || current == runID {
		if err := s.stateManager.DeleteSession(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to delete session state", zap.String("session_id", sessionID), zap.Error(err))
		}
		if err := s.cacheManager.ClearSession(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to clear session cache", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if s.repos.Sessions != nil {
		if err := s.repos.Sessions.MarkEnded(ctx, sessionID, runID, time.Now()); err != nil {
			s.logger.Warn("Failed to mark session ended", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (s *MonitorService) saveSnapshot(ctx context.Context, sessionID string) {
	snap, err := s.engine.Snapshot(sessionID)
	if err != nil {
		return
	}
	if err := s.stateManager.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("Failed to save session snapshot", zap.String("session_id", sessionID), zap.Error(err))
	}
}
