package engine

import (
	"math"

	"cardiotwin/internal/models"
)

// Range 生理取值范围（闭区间）
type Range struct {
	Min float64
	Max float64
}

// Contains 是否在范围内
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var (
	HeartRateRange   = Range{Min: 30, Max: 220}
	HRVRange         = Range{Min: 0, Max: 200}
	SpO2Range        = Range{Min: 70, Max: 100}
	TemperatureRange = Range{Min: 30.0, Max: 42.0}
)

const (
	// SpO2SafetyFloor 低于该值视为低氧安全底线，而非正常偏低
	SpO2SafetyFloor = 85.0
	// DefaultMaxHeartRateJump 相邻两条已接受读数的心率最大跳变（运动伪影）
	DefaultMaxHeartRateJump = 40.0

	WarningBelowSafetyFloor = "below_safety_floor"
)

// ValidateReading 校验原始读数。last 为本会话上一条已接受读数（可为 nil）。
// 纯函数，不修改任何状态；返回的 warnings 不影响接受结果。
func ValidateReading(raw models.RawReading, last *models.Reading, maxJump float64) (models.Reading, []string, error) {
	if len(raw.Malformed) > 0 {
		return models.Reading{}, nil, invalid(raw.Malformed[0], "must be numeric")
	}

	fields := []struct {
		name string
		val  *float64
		rng  Range
	}{
		{"heart_rate", raw.HeartRate, HeartRateRange},
		{"hrv", raw.HRV, HRVRange},
		{"spo2", raw.SpO2, SpO2Range},
		{"temperature", raw.Temperature, TemperatureRange},
	}
	for _, f := range fields {
		if f.val == nil {
			return models.Reading{}, nil, invalid(f.name, "missing")
		}
		v := *f.val
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Reading{}, nil, invalid(f.name, "must be a finite number")
		}
		if !f.rng.Contains(v) {
			return models.Reading{}, nil, invalid(f.name, "%.1f outside physiological range [%.1f, %.1f]", v, f.rng.Min, f.rng.Max)
		}
	}
	if raw.Timestamp == nil {
		return models.Reading{}, nil, invalid("timestamp", "missing")
	}
	if *raw.Timestamp < 0 {
		return models.Reading{}, nil, invalid("timestamp", "must not be negative")
	}

	reading := models.Reading{
		SessionID:   raw.SessionID,
		HeartRate:   *raw.HeartRate,
		HRV:         *raw.HRV,
		SpO2:        *raw.SpO2,
		Temperature: *raw.Temperature,
		Timestamp:   *raw.Timestamp,
	}

	if last != nil {
		if reading.Timestamp <= last.Timestamp {
			return models.Reading{}, nil, invalid("timestamp", "%d not after last accepted reading %d", reading.Timestamp, last.Timestamp)
		}
		if maxJump <= 0 {
			maxJump = DefaultMaxHeartRateJump
		}
		if jump := math.Abs(reading.HeartRate - last.HeartRate); jump > maxJump {
			return models.Reading{}, nil, invalid("heart_rate", "jump of %.1f bpm exceeds %.0f bpm (motion artifact)", jump, maxJump)
		}
	}

	var warnings []string
	if reading.SpO2 < SpO2SafetyFloor {
		warnings = append(warnings, WarningBelowSafetyFloor)
	}
	return reading, warnings, nil
}
