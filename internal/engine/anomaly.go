package engine

import (
	"fmt"

	"cardiotwin/internal/models"
)

// 报警规则代码
const (
	AlertSuddenDrop       = "sudden_drop"
	AlertZoneDowngrade    = "zone_downgrade"
	AlertCriticalFloor    = "critical_floor"
	AlertSustainedDecline = "sustained_decline"
)

const (
	suddenDropThreshold = 20.0
	criticalFloor       = 30.0
	sustainedWindow     = 4
)

// AnomalyInput 异常检测输入。Previous/PreviousZone 为 nil 表示本会话尚无已评分读数。
type AnomalyInput struct {
	Current      float64
	CurrentZone  models.Zone
	Previous     *float64
	PreviousZone *models.Zone
	// Recent 最近的综合分（按时间顺序，包含当前值）
	Recent []float64
}

// AnomalyResult 异常检测结果
type AnomalyResult struct {
	Alert    bool
	Code     string // 第一条命中规则
	Reason   string
	Severity models.AlertSeverity
	Fired    []string
}

type anomalyRule struct {
	code     string
	evaluate func(in AnomalyInput) (models.AlertSeverity, string, bool)
}

// 顺序即报警原因的优先级
var anomalyRules = []anomalyRule{
	{AlertSuddenDrop, evalSuddenDrop},
	{AlertZoneDowngrade, evalZoneDowngrade},
	{AlertCriticalFloor, evalCriticalFloor},
	{AlertSustainedDecline, evalSustainedDecline},
}

// DetectAnomaly 对一条已评分读数执行全部规则：任一命中即报警，严重度取最大值，原因取第一条命中规则
func DetectAnomaly(in AnomalyInput) AnomalyResult {
	res := AnomalyResult{Severity: models.SeverityNone}
	for _, rule := range anomalyRules {
		severity, reason, fired := rule.evaluate(in)
		if !fired {
			continue
		}
		if !res.Alert {
			res.Alert = true
			res.Code = rule.code
			res.Reason = reason
		}
		res.Fired = append(res.Fired, rule.code)
		res.Severity = res.Severity.Max(severity)
	}
	return res
}

func evalSuddenDrop(in AnomalyInput) (models.AlertSeverity, string, bool) {
	if in.Previous == nil {
		return "", "", false
	}
	drop := *in.Previous - in.Current
	if drop > suddenDropThreshold {
		return models.SeverityMedium, fmt.Sprintf("Score dropped %.1f points (%.1f -> %.1f)", drop, *in.Previous, in.Current), true
	}
	return "", "", false
}

func evalZoneDowngrade(in AnomalyInput) (models.AlertSeverity, string, bool) {
	if in.PreviousZone == nil || in.CurrentZone.Rank() >= in.PreviousZone.Rank() {
		return "", "", false
	}
	severity := models.SeverityMedium
	if in.CurrentZone == models.ZoneOrange || in.CurrentZone == models.ZoneRed {
		severity = models.SeverityHigh
	}
	return severity, fmt.Sprintf("Zone changed from %s to %s", in.PreviousZone.Label(), in.CurrentZone.Label()), true
}

func evalCriticalFloor(in AnomalyInput) (models.AlertSeverity, string, bool) {
	if in.Current < criticalFloor {
		return models.SeverityHigh, fmt.Sprintf("Score %.1f below critical threshold %.0f", in.Current, criticalFloor), true
	}
	return "", "", false
}

func evalSustainedDecline(in AnomalyInput) (models.AlertSeverity, string, bool) {
	if len(in.Recent) < sustainedWindow {
		return "", "", false
	}
	window := in.Recent[len(in.Recent)-sustainedWindow:]
	for i := 1; i < len(window); i++ {
		if window[i] >= window[i-1] {
			return "", "", false
		}
	}
	return models.SeverityMedium, fmt.Sprintf("Score declined over last %d readings", sustainedWindow), true
}
