package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cardiotwin/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// session 单个监测会话的聚合状态。所有字段仅在持有 mu 时读写。
type session struct {
	mu sync.Mutex

	id          string
	runID       string // 每次开始会话生成，用于区分同一 session_id 的不同生命周期
	phase       models.SessionPhase
	calibration []models.Reading
	baseline    *models.Baseline
	history     []models.ScorePoint
	// prevScore / prevZone 为 nil 表示尚无已评分读数，增量规则不参与判断
	prevScore *float64
	prevZone  *models.Zone
	last      *models.Reading

	accepted int
	rejected int
	failure  string

	createdAt time.Time
	lastSeen  time.Time
}

func newSession(id string, now time.Time) *session {
	return &session{
		id:        id,
		runID:     uuid.NewString(),
		phase:     models.PhaseCalibrating,
		createdAt: now,
		lastSeen:  now,
	}
}

// calibrationTarget 当前阶段需要的校准读数数量
func (s *session) calibrationTarget(cfg Config) int {
	if s.phase == models.PhaseCalibratingExtended {
		return cfg.ExtendedThreshold
	}
	return cfg.CalibrationThreshold
}

func (s *session) calibrating() bool {
	return s.phase == models.PhaseCalibrating || s.phase == models.PhaseCalibratingExtended
}

// process 处理一条读数（调用方需持有 s.mu）
func (s *session) process(raw models.RawReading, cfg Config, logger *zap.Logger, now time.Time) (*models.ProcessResult, error) {
	s.lastSeen = now

	if s.phase == models.PhaseFailed {
		return &models.ProcessResult{
			Status:    models.StatusCalibrationFailed,
			SessionID: s.id,
			RunID:     s.runID,
			Reason:    s.failure,
			Cause:     ErrSessionFailed,
		}, nil
	}

	raw.SessionID = s.id
	reading, warnings, err := ValidateReading(raw, s.last, cfg.MaxHeartRateJump)
	if err == nil && s.calibrating() && reading.SpO2 < SpO2SafetyFloor {
		err = invalid("spo2", "%.1f below safety floor %.0f during calibration", reading.SpO2, SpO2SafetyFloor)
	}
	if err != nil {
		// 仅用于会话摘要统计，被拒读数不进入校准缓冲区，也不更新 last / 增量基准
		s.rejected++
		return &models.ProcessResult{
			Status:    models.StatusRejected,
			SessionID: s.id,
			RunID:     s.runID,
			Reason:    err.Error(),
			Cause:     err,
		}, nil
	}

	s.last = &reading
	s.accepted++

	if s.calibrating() {
		return s.collect(reading, cfg, logger)
	}
	return s.score(reading, warnings, cfg, logger)
}

// collect 校准阶段：累积读数，达到阈值后尝试校准
func (s *session) collect(reading models.Reading, cfg Config, logger *zap.Logger) (*models.ProcessResult, error) {
	s.calibration = append(s.calibration, reading)
	target := s.calibrationTarget(cfg)

	result := &models.ProcessResult{
		Status:            models.StatusCalibrating,
		SessionID:         s.id,
		RunID:             s.runID,
		ReadingsCollected: len(s.calibration),
		ReadingsNeeded:    target,
		Reading:           &reading,
	}
	if len(s.calibration) < target {
		return result, nil
	}

	baseline, err := Calibrate(s.calibration, cfg.MinCleanReadings)
	switch {
	case err == nil:
		if s.baseline != nil {
			logger.DPanic("Baseline already established for session", zap.String("session_id", s.id))
			return nil, fmt.Errorf("%w: double calibration for session %s", ErrInvariantViolation, s.id)
		}
		s.baseline = &baseline
		s.calibration = nil
		s.phase = models.PhaseScoring
		result.Baseline = &baseline
		logger.Info("Session calibrated",
			zap.String("session_id", s.id),
			zap.Int("samples", baseline.SampleCount),
			zap.Float64("resting_heart_rate", baseline.RestingHeartRate),
			zap.Float64("resting_hrv", baseline.RestingHRV),
		)
		return result, nil

	case errors.Is(err, ErrCalibrationInsufficient) && s.phase == models.PhaseCalibrating:
		s.phase = models.PhaseCalibratingExtended
		result.ReadingsNeeded = cfg.ExtendedThreshold
		logger.Info("Calibration extended",
			zap.String("session_id", s.id),
			zap.Int("readings_needed", cfg.ExtendedThreshold),
			zap.Error(err),
		)
		return result, nil

	default:
		s.phase = models.PhaseFailed
		s.failure = err.Error()
		s.calibration = nil
		logger.Warn("Calibration failed", zap.String("session_id", s.id), zap.Error(err))
		return &models.ProcessResult{
			Status:            models.StatusCalibrationFailed,
			SessionID:         s.id,
			RunID:             s.runID,
			ReadingsCollected: result.ReadingsCollected,
			Reason:            err.Error(),
			Cause:             err,
			Reading:           &reading,
		}, nil
	}
}

// score 评分阶段：组件分 -> 综合分 -> 区间 -> 异常检测 -> 更新历史
func (s *session) score(reading models.Reading, warnings []string, cfg Config, logger *zap.Logger) (*models.ProcessResult, error) {
	if s.baseline == nil {
		logger.DPanic("Scoring phase without baseline", zap.String("session_id", s.id))
		return nil, fmt.Errorf("%w: session %s has no baseline in scoring phase", ErrInvariantViolation, s.id)
	}

	components := ScoreComponents(reading, *s.baseline)
	composite := Composite(components.HeartRate.Score, components.HRV.Score, components.SpO2.Score, components.Temperature.Score)
	zone := ClassifyZone(composite)

	s.appendHistory(models.ScorePoint{Score: composite, Zone: zone, Timestamp: reading.Timestamp}, cfg.HistoryLimit)

	recent := make([]float64, 0, sustainedWindow)
	start := len(s.history) - sustainedWindow
	if start < 0 {
		start = 0
	}
	for _, p := range s.history[start:] {
		recent = append(recent, p.Score)
	}

	anomaly := DetectAnomaly(AnomalyInput{
		Current:      composite,
		CurrentZone:  zone,
		Previous:     s.prevScore,
		PreviousZone: s.prevZone,
		Recent:       recent,
	})

	prev := composite
	prevZone := zone
	s.prevScore = &prev
	s.prevZone = &prevZone

	return &models.ProcessResult{
		Status:    models.StatusScored,
		SessionID: s.id,
		RunID:     s.runID,
		Warnings:  warnings,
		Reading:   &reading,
		Result: &models.ScoredResult{
			SessionID:      s.id,
			Timestamp:      reading.Timestamp,
			CompositeScore: composite,
			Zone:           zone,
			ZoneLabel:      zone.Label(),
			ZoneEmoji:      zone.Emoji(),
			Alert:          anomaly.Alert,
			AlertCode:      anomaly.Code,
			AlertReason:    anomaly.Reason,
			AlertSeverity:  anomaly.Severity,
			Components:     components,
			Baseline:       *s.baseline,
		},
	}, nil
}

// appendHistory 追加得分点，超过上限时淘汰最早的
func (s *session) appendHistory(p models.ScorePoint, limit int) {
	s.history = append(s.history, p)
	if limit > 0 && len(s.history) > limit {
		s.history = append([]models.ScorePoint(nil), s.history[len(s.history)-limit:]...)
	}
}

// snapshot 导出会话状态（调用方需持有 s.mu）
func (s *session) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionID:         s.id,
		RunID:             s.runID,
		Phase:             s.phase,
		CalibrationBuffer: append([]models.Reading(nil), s.calibration...),
		History:           append([]models.ScorePoint(nil), s.history...),
		ReadingsAccepted:  s.accepted,
		ReadingsRejected:  s.rejected,
		FailureReason:     s.failure,
		CreatedAt:         s.createdAt,
		LastSeenAt:        s.lastSeen,
	}
	if s.baseline != nil {
		b := *s.baseline
		snap.Baseline = &b
	}
	if s.prevScore != nil {
		v := *s.prevScore
		snap.PreviousScore = &v
	}
	if s.prevZone != nil {
		z := *s.prevZone
		snap.PreviousZone = &z
	}
	if s.last != nil {
		r := *s.last
		snap.LastAccepted = &r
	}
	return snap
}

// restoreSession 从快照重建会话
func restoreSession(snap models.SessionSnapshot) (*session, error) {
	if snap.SessionID == "" {
		return nil, fmt.Errorf("snapshot has empty session_id")
	}
	switch snap.Phase {
	case models.PhaseCalibrating, models.PhaseCalibratingExtended:
		if snap.Baseline != nil {
			return nil, fmt.Errorf("%w: calibrating snapshot %s already has a baseline", ErrInvariantViolation, snap.SessionID)
		}
	case models.PhaseFailed:
	case models.PhaseScoring:
		if snap.Baseline == nil {
			return nil, fmt.Errorf("%w: scoring snapshot %s without baseline", ErrInvariantViolation, snap.SessionID)
		}
	default:
		return nil, fmt.Errorf("unknown session phase %q", snap.Phase)
	}

	runID := snap.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	s := &session{
		id:          snap.SessionID,
		runID:       runID,
		phase:       snap.Phase,
		calibration: append([]models.Reading(nil), snap.CalibrationBuffer...),
		history:     append([]models.ScorePoint(nil), snap.History...),
		accepted:    snap.ReadingsAccepted,
		rejected:    snap.ReadingsRejected,
		failure:     snap.FailureReason,
		createdAt:   snap.CreatedAt,
		lastSeen:    snap.LastSeenAt,
	}
	if snap.Baseline != nil {
		b := *snap.Baseline
		s.baseline = &b
	}
	if snap.PreviousScore != nil {
		v := *snap.PreviousScore
		s.prevScore = &v
	}
	if snap.PreviousZone != nil {
		z := *snap.PreviousZone
		s.prevZone = &z
	}
	if snap.LastAccepted != nil {
		r := *snap.LastAccepted
		s.last = &r
	}
	return s, nil
}

// summary 会话结束摘要（调用方需持有 s.mu）
func (s *session) summary(now time.Time) models.SessionSummary {
	sum := models.SessionSummary{
		SessionID:        s.id,
		RunID:            s.runID,
		Phase:            s.phase,
		ReadingsAccepted: s.accepted,
		ReadingsRejected: s.rejected,
		ScoredReadings:   len(s.history),
		Duration:         now.Sub(s.createdAt).Round(time.Second).String(),
	}
	if s.baseline != nil {
		b := *s.baseline
		sum.Baseline = &b
	}
	if len(s.history) == 0 {
		return sum
	}
	sum.MinScore = s.history[0].Score
	sum.MaxScore = s.history[0].Score
	var total float64
	for _, p := range s.history {
		if p.Score < sum.MinScore {
			sum.MinScore = p.Score
		}
		if p.Score > sum.MaxScore {
			sum.MaxScore = p.Score
		}
		total += p.Score
	}
	last := s.history[len(s.history)-1]
	sum.AvgScore = Round1(total / float64(len(s.history)))
	sum.FinalScore = last.Score
	sum.FinalZone = last.Zone
	return sum
}
