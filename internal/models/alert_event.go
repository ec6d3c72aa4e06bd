package models

import "time"

// AlertEvent 报警事件（对应 alert_events 表）
type AlertEvent struct {
	EventID      string        `json:"event_id" db:"event_id"`
	SessionID    string        `json:"session_id" db:"session_id"`
	RunID        string        `json:"run_id" db:"run_id"`
	AlertCode    string        `json:"alert_code" db:"alert_code"` // sudden_drop, zone_downgrade, critical_floor, sustained_decline
	Severity     AlertSeverity `json:"severity" db:"severity"`
	Score        float64       `json:"score" db:"score"`
	Zone         Zone          `json:"zone" db:"zone"`
	Reason       string        `json:"reason" db:"reason"`
	NudgeMessage string        `json:"nudge_message" db:"nudge_message"`
	Channel      string        `json:"channel" db:"channel"` // whatsapp, sms, none
	Delivered    bool          `json:"delivered" db:"delivered"`
	TriggeredAt  time.Time     `json:"triggered_at" db:"triggered_at"`
	TriggerData  string        `json:"trigger_data" db:"trigger_data"` // JSONB
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// TriggerData 触发报警时的读数快照（JSONB 结构）
type TriggerData struct {
	HeartRate      float64         `json:"heart_rate"`
	HRV            float64         `json:"hrv"`
	SpO2           float64         `json:"spo2"`
	Temperature    float64         `json:"temperature"`
	Timestamp      int64           `json:"timestamp"`
	CompositeScore float64         `json:"composite_score"`
	Components     ComponentScores `json:"components"`
}

// NudgeRecord 最近一次推送（缓存于 Redis，供 GET /api/nudge 查询）
type NudgeRecord struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Source    string        `json:"source"` // llm, template
	Language  Language      `json:"language"`
	Zone      Zone          `json:"zone"`
	ZoneLabel string        `json:"zone_label"`
	Score     float64       `json:"score"`
	Severity  AlertSeverity `json:"severity"`
	Channel   string        `json:"channel"`
	Delivered bool          `json:"delivered"`
	CreatedAt time.Time     `json:"created_at"`
}
