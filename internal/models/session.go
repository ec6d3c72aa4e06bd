package models

import "time"

// SessionPhase 会话阶段
type SessionPhase string

const (
	PhaseCalibrating         SessionPhase = "calibrating"          // 第一阶段校准（默认 15 条）
	PhaseCalibratingExtended SessionPhase = "calibrating_extended" // 扩展校准（默认 20 条）
	PhaseScoring             SessionPhase = "scoring"
	PhaseFailed              SessionPhase = "failed" // 校准失败，需外部重启会话
)

// SessionSnapshot 会话状态快照（交给存储层原样保存，用于进程重启后恢复）
type SessionSnapshot struct {
	SessionID         string       `json:"session_id"`
	RunID             string       `json:"run_id,omitempty"`
	Phase             SessionPhase `json:"phase"`
	CalibrationBuffer []Reading    `json:"calibration_buffer,omitempty"`
	Baseline          *Baseline    `json:"baseline,omitempty"`
	History           []ScorePoint `json:"history,omitempty"`
	PreviousScore     *float64     `json:"previous_score,omitempty"`
	PreviousZone      *Zone        `json:"previous_zone,omitempty"`
	LastAccepted      *Reading     `json:"last_accepted,omitempty"`
	ReadingsAccepted  int          `json:"readings_accepted"`
	ReadingsRejected  int          `json:"readings_rejected"`
	FailureReason     string       `json:"failure_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	LastSeenAt        time.Time    `json:"last_seen_at"`
}

// SessionSummary 会话结束摘要
type SessionSummary struct {
	SessionID        string       `json:"session_id"`
	RunID            string       `json:"run_id"`
	Phase            SessionPhase `json:"phase"`
	ReadingsAccepted int          `json:"readings_accepted"`
	ReadingsRejected int          `json:"readings_rejected"` // 仅统计，不影响评分状态
	ScoredReadings   int          `json:"scored_readings"`
	MinScore         float64      `json:"min_score"`
	MaxScore         float64      `json:"max_score"`
	AvgScore         float64      `json:"avg_score"`
	FinalScore       float64      `json:"final_score"`
	FinalZone        Zone         `json:"final_zone,omitempty"`
	Baseline         *Baseline    `json:"baseline,omitempty"`
	Duration         string       `json:"duration"`
}

// SessionInfo 会话登记信息（对应 sessions 表）
type SessionInfo struct {
	SessionID string     `json:"session_id" db:"session_id"`
	RunID     string     `json:"run_id" db:"run_id"`
	UserPhone *string    `json:"user_phone,omitempty" db:"user_phone"`
	Language  Language   `json:"language" db:"language"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}
