package models

// Zone 风险区间（有序：GREEN > YELLOW > ORANGE > RED）
type Zone string

const (
	ZoneGreen  Zone = "GREEN"
	ZoneYellow Zone = "YELLOW"
	ZoneOrange Zone = "ORANGE"
	ZoneRed    Zone = "RED"
)

type zoneMeta struct {
	rank     int
	label    string
	emoji    string
	colorHex string
	action   string
}

var zoneMetadata = map[Zone]zoneMeta{
	ZoneGreen:  {4, "Thriving", "🟢", "#22C55E", "Maintain current lifestyle."},
	ZoneYellow: {3, "Mild Strain", "🟡", "#EAB308", "Consider a short break or relaxation technique."},
	ZoneOrange: {2, "Elevated Risk", "🟠", "#F97316", "Take a break, practice deep breathing, stay hydrated."},
	ZoneRed:    {1, "Critical Strain", "🔴", "#EF4444", "Stop activity immediately. Rest and monitor closely."},
}

// Rank 区间序号（GREEN=4 最高，RED=1 最低，未知为 0）
func (z Zone) Rank() int { return zoneMetadata[z].rank }

// Label 区间显示名称
func (z Zone) Label() string {
	if m, ok := zoneMetadata[z]; ok {
		return m.label
	}
	return "Unknown"
}

// Emoji 区间图标
func (z Zone) Emoji() string {
	if m, ok := zoneMetadata[z]; ok {
		return m.emoji
	}
	return "⚪"
}

// ColorHex 区间颜色
func (z Zone) ColorHex() string { return zoneMetadata[z].colorHex }

// RecommendedAction 区间建议动作
func (z Zone) RecommendedAction() string { return zoneMetadata[z].action }

// Valid 是否为已知区间
func (z Zone) Valid() bool {
	_, ok := zoneMetadata[z]
	return ok
}

// AlertSeverity 报警严重程度
type AlertSeverity string

const (
	SeverityNone   AlertSeverity = "none"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Rank 严重程度排序值
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Max 返回两者中更严重的一个
func (s AlertSeverity) Max(other AlertSeverity) AlertSeverity {
	if other.Rank() > s.Rank() {
		return other
	}
	if s == "" {
		return SeverityNone
	}
	return s
}

// ComponentScore 单项指标得分
type ComponentScore struct {
	Metric   string  `json:"metric"`
	RawValue float64 `json:"value"`
	Score    float64 `json:"score"`
	Status   string  `json:"status"`
}

// ComponentScores 四项指标得分
type ComponentScores struct {
	HeartRate   ComponentScore `json:"heart_rate"`
	HRV         ComponentScore `json:"hrv"`
	SpO2        ComponentScore `json:"spo2"`
	Temperature ComponentScore `json:"temperature"`
}

// ScoredResult 单条读数的评分结果
type ScoredResult struct {
	SessionID      string          `json:"session_id"`
	Timestamp      int64           `json:"timestamp"`
	CompositeScore float64         `json:"score"`
	Zone           Zone            `json:"zone"`
	ZoneLabel      string          `json:"zone_label"`
	ZoneEmoji      string          `json:"zone_emoji"`
	Alert          bool            `json:"alert"`
	AlertCode      string          `json:"alert_code,omitempty"`
	AlertReason    string          `json:"alert_reason,omitempty"`
	AlertSeverity  AlertSeverity   `json:"alert_severity"`
	NudgeSent      bool            `json:"nudge_sent"`
	Components     ComponentScores `json:"components"`
	Baseline       Baseline        `json:"baseline"`
}

// ProcessStatus 读数处理状态
type ProcessStatus string

const (
	StatusCalibrating       ProcessStatus = "calibrating"
	StatusScored            ProcessStatus = "scored"
	StatusRejected          ProcessStatus = "rejected"
	StatusCalibrationFailed ProcessStatus = "calibration_failed"
)

// ProcessResult 读数处理结果（调用方根据 Status 分支处理）
type ProcessResult struct {
	Status            ProcessStatus `json:"status"`
	SessionID         string        `json:"session_id"`
	RunID             string        `json:"run_id,omitempty"`
	ReadingsCollected int           `json:"readings_collected,omitempty"`
	ReadingsNeeded    int           `json:"readings_needed,omitempty"`
	Result            *ScoredResult `json:"result,omitempty"`
	Reason            string        `json:"reason,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Baseline          *Baseline     `json:"baseline,omitempty"` // 仅在完成校准的那条读数上返回

	Reading *Reading `json:"-"`
	Cause   error    `json:"-"` // rejected / calibration_failed 的具体错误，可用 errors.Is/As 判断
}

// ScorePoint 历史得分点
type ScorePoint struct {
	Score     float64 `json:"score"`
	Zone      Zone    `json:"zone"`
	Timestamp int64   `json:"timestamp"`
}

// TrendDirection 趋势方向
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
	TrendVolatile  TrendDirection = "volatile"
)

// Projection 风险预测结果（按需计算，不持久化）
type Projection struct {
	SessionID               string         `json:"session_id"`
	CurrentScore            float64        `json:"current_score"`
	ProjectedScore          float64        `json:"projected_score"`
	ProjectedRestingHRDelta float64        `json:"projected_resting_hr_increase_bpm"`
	CurrentZone             Zone           `json:"current_zone"`
	CurrentZoneLabel        string         `json:"current_risk_category"`
	ProjectedZone           Zone           `json:"projected_zone"`
	ProjectedZoneLabel      string         `json:"projected_risk_category"`
	HorizonDays             int            `json:"horizon_days"`
	TrendDirection          TrendDirection `json:"trend_direction"`
	Slope                   float64        `json:"slope_per_reading"`
	PointsUsed              int            `json:"points_used"`
	ReadingsPerDay          float64        `json:"readings_per_day"`
	Scenario                string         `json:"scenario,omitempty"`
	ScenarioImpact          float64        `json:"scenario_impact,omitempty"`
	ScenarioNote            string         `json:"scenario_note,omitempty"`
	Disclaimer              string         `json:"disclaimer"`
}
