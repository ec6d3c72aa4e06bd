package engine

import (
	"math"

	"cardiotwin/internal/models"
)

// curvePoint 分段线性曲线的断点
type curvePoint struct {
	x float64
	y float64
}

// Curve 分段线性曲线（x 升序），区间外取端点值
type Curve []curvePoint

// Eval 计算曲线在 x 处的值
func (c Curve) Eval(x float64) float64 {
	if x <= c[0].x {
		return c[0].y
	}
	last := c[len(c)-1]
	if x >= last.x {
		return last.y
	}
	for i := 1; i < len(c); i++ {
		if x <= c[i].x {
			a, b := c[i-1], c[i]
			return a.y + (x-a.x)/(b.x-a.x)*(b.y-a.y)
		}
	}
	return last.y
}

var (
	// 心率相对基线升高百分比
	heartRateCurve = Curve{{0, 100}, {10, 80}, {25, 40}, {50, 0}}
	// HRV 相对基线下降百分比
	hrvCurve = Curve{{0, 100}, {15, 90}, {30, 70}, {50, 50}, {75, 0}}
	// SpO2 绝对值
	spo2Curve = Curve{{85, 0}, {88, 10}, {92, 40}, {95, 75}, {97, 100}}
	// 体温偏离基线绝对值（°C）
	temperatureCurve = Curve{{0.3, 100}, {0.8, 70}, {1.5, 30}, {2.5, 0}}
)

// ScoreHeartRate 心率得分：只有高于基线才扣分
func ScoreHeartRate(value, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	increase := (value - baseline) / baseline * 100
	return clampScore(heartRateCurve.Eval(increase))
}

// ScoreHRV HRV 得分：只有低于基线才扣分
func ScoreHRV(value, baseline float64) float64 {
	if baseline <= 0 {
		return 100
	}
	decrease := (baseline - value) / baseline * 100
	return clampScore(hrvCurve.Eval(decrease))
}

// ScoreSpO2 血氧得分（绝对阈值，与基线无关）
func ScoreSpO2(value float64) float64 {
	return clampScore(spo2Curve.Eval(value))
}

// ScoreTemperature 体温得分：双向偏离都扣分
func ScoreTemperature(value, baseline float64) float64 {
	return clampScore(temperatureCurve.Eval(math.Abs(value - baseline)))
}

// StatusLabel 单项得分等级
func StatusLabel(score float64) string {
	switch {
	case score >= 80:
		return "optimal"
	case score >= 55:
		return "fair"
	case score >= 30:
		return "strained"
	default:
		return "critical"
	}
}

// Weights 综合分权重（整数百分比，合计必须为 100）
type Weights struct {
	HeartRate   int
	HRV         int
	SpO2        int
	Temperature int
}

// DefaultWeights 默认权重 25/40/20/15
var DefaultWeights = Weights{HeartRate: 25, HRV: 40, SpO2: 20, Temperature: 15}

// Sum 权重合计
func (w Weights) Sum() int {
	return w.HeartRate + w.HRV + w.SpO2 + w.Temperature
}

// Composite 按默认权重计算综合分（保留一位小数）
func Composite(hr, hrv, spo2, temp float64) float64 {
	return DefaultWeights.Composite(hr, hrv, spo2, temp)
}

// Composite 按权重计算综合分（保留一位小数）
func (w Weights) Composite(hr, hrv, spo2, temp float64) float64 {
	sum := float64(w.HeartRate)*hr + float64(w.HRV)*hrv + float64(w.SpO2)*spo2 + float64(w.Temperature)*temp
	return Round1(clampScore(sum / float64(w.Sum())))
}

// ScoreComponents 计算四项指标得分
func ScoreComponents(r models.Reading, b models.Baseline) models.ComponentScores {
	component := func(metric string, raw, score float64) models.ComponentScore {
		score = Round1(score)
		return models.ComponentScore{Metric: metric, RawValue: raw, Score: score, Status: StatusLabel(score)}
	}
	spo2 := ScoreSpO2(r.SpO2)
	if r.SpO2 < SpO2SafetyFloor {
		spo2 = 0
	}
	return models.ComponentScores{
		HeartRate:   component("heart_rate", r.HeartRate, ScoreHeartRate(r.HeartRate, b.RestingHeartRate)),
		HRV:         component("hrv", r.HRV, ScoreHRV(r.HRV, b.RestingHRV)),
		SpO2:        component("spo2", r.SpO2, spo2),
		Temperature: component("temperature", r.Temperature, ScoreTemperature(r.Temperature, b.NormalTemperature)),
	}
}

// Round1 四舍五入到一位小数（远离零）
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
