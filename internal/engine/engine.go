package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// DefaultReadingIntervalMs 传感器默认采样间隔（毫秒）
const DefaultReadingIntervalMs int64 = 2000

// Config 评分引擎参数
type Config struct {
	CalibrationThreshold int     // 第一阶段校准读数数量
	ExtendedThreshold    int     // 扩展校准读数数量
	MinCleanReadings     int     // 离群过滤后每项指标最少保留数量
	HistoryLimit         int     // 得分历史上限
	ReadingIntervalMs    int64   // 无法从时间戳推算采样频率时使用
	MaxHeartRateJump     float64 // 运动伪影判定阈值（bpm）
}

// DefaultConfig 默认引擎参数
func DefaultConfig() Config {
	return Config{
		CalibrationThreshold: 15,
		ExtendedThreshold:    20,
		MinCleanReadings:     12,
		HistoryLimit:         1000,
		ReadingIntervalMs:    DefaultReadingIntervalMs,
		MaxHeartRateJump:     DefaultMaxHeartRateJump,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CalibrationThreshold <= 0 {
		c.CalibrationThreshold = d.CalibrationThreshold
	}
	if c.ExtendedThreshold < c.CalibrationThreshold {
		c.ExtendedThreshold = c.CalibrationThreshold
	}
	if c.MinCleanReadings <= 0 {
		c.MinCleanReadings = d.MinCleanReadings
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.ReadingIntervalMs <= 0 {
		c.ReadingIntervalMs = d.ReadingIntervalMs
	}
	if c.MaxHeartRateJump <= 0 {
		c.MaxHeartRateJump = d.MaxHeartRateJump
	}
	return c
}

// Engine 自适应风险评分引擎。
// 会话之间互不影响；同一会话的读数串行处理（每个会话一把锁）。
type Engine struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// New 创建评分引擎
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Config 返回生效的引擎参数
func (e *Engine) Config() Config {
	return e.cfg
}

// lookup 获取会话；create 为 true 时不存在则创建
func (e *Engine) lookup(sessionID string, create bool) (*session, bool) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if ok || !create {
		return s, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.sessions[sessionID]; ok {
		return s, false
	}
	s = newSession(sessionID, e.now())
	e.sessions[sessionID] = s
	return s, true
}

// StartSession 显式开始会话；已存在则返回 false
func (e *Engine) StartSession(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("session_id is required")
	}
	_, created := e.lookup(sessionID, true)
	if created {
		e.logger.Info("Session started", zap.String("session_id", sessionID))
	}
	return created, nil
}

// ProcessReading 处理一条读数。不存在的会话会自动创建。
// 校验拒绝、校准失败通过 ProcessResult.Status 返回；error 仅用于参数错误和内部不变量被破坏。
func (e *Engine) ProcessReading(sessionID string, raw models.RawReading) (*models.ProcessResult, error) {
	if sessionID == "" {
		sessionID = raw.SessionID
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	s, created := e.lookup(sessionID, true)
	if created {
		e.logger.Info("Session created on first reading", zap.String("session_id", sessionID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process(raw, e.cfg, e.logger, e.now())
}

// ProjectRisk 基于会话得分历史预测 horizonDays 天后的得分；scenario 为空时不做情景调整
func (e *Engine) ProjectRisk(sessionID string, horizonDays int, scenario string) (*models.Projection, error) {
	s, _ := e.lookup(sessionID, false)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	history := append([]models.ScorePoint(nil), s.history...)
	s.mu.Unlock()

	p, err := Project(history, horizonDays, e.cfg.ReadingIntervalMs)
	if err != nil {
		return nil, err
	}
	p.SessionID = sessionID
	ApplyScenario(p, scenario)
	return p, nil
}

// History 返回会话得分历史（副本）
func (e *Engine) History(sessionID string) ([]models.ScorePoint, error) {
	s, _ := e.lookup(sessionID, false)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScorePoint(nil), s.history...), nil
}

// Snapshot 导出会话状态
func (e *Engine) Snapshot(sessionID string) (*models.SessionSnapshot, error) {
	s, _ := e.lookup(sessionID, false)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	return &snap, nil
}

// RunID 返回会话当前生命周期的 run id
func (e *Engine) RunID(sessionID string) (string, error) {
	s, _ := e.lookup(sessionID, false)
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID, nil
}

// Restore 从快照恢复会话；已存在的同名会话不会被覆盖
func (e *Engine) Restore(snap models.SessionSnapshot) (bool, error) {
	s, err := restoreSession(snap)
	if err != nil {
		return false, fmt.Errorf("failed to restore session: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[snap.SessionID]; ok {
		return false, nil
	}
	e.sessions[snap.SessionID] = s
	return true, nil
}

// EndSession 结束会话并返回摘要，会话状态随之丢弃
func (e *Engine) EndSession(sessionID string) (*models.SessionSummary, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	// 等待进行中的读数处理结束后再生成摘要
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.summary(e.now())
	e.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.Int("readings_accepted", sum.ReadingsAccepted),
		zap.Int("readings_rejected", sum.ReadingsRejected),
	)
	return &sum, nil
}

// SweepIdle 结束超过 idle 未收到读数的会话，返回其摘要
func (e *Engine) SweepIdle(idle time.Duration) []models.SessionSummary {
	cutoff := e.now().Add(-idle)

	e.mu.RLock()
	var candidates []string
	for id, s := range e.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			candidates = append(candidates, id)
		}
		s.mu.Unlock()
	}
	e.mu.RUnlock()
	sort.Strings(candidates)

	var ended []models.SessionSummary
	for _, id := range candidates {
		if sum, ok := e.endIfIdle(id, cutoff); ok {
			ended = append(ended, sum)
		}
	}
	return ended
}

// endIfIdle 再次确认会话仍处于空闲后结束它
func (e *Engine) endIfIdle(sessionID string, cutoff time.Time) (models.SessionSummary, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return models.SessionSummary{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastSeen.Before(cutoff) {
		e.mu.Unlock()
		return models.SessionSummary{}, false
	}
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	sum := s.summary(e.now())
	e.logger.Info("Idle session swept",
		zap.String("session_id", sessionID),
		zap.Time("last_seen_at", s.lastSeen),
	)
	return sum, true
}

// SessionIDs 当前内存中的会话
func (e *Engine) SessionIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
