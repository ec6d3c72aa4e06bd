package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawReading 传感器上报的原始读数（字段可能缺失或格式错误，尚未校验）
type RawReading struct {
	SessionID   string   `json:"session_id"`
	HeartRate   *float64 `json:"bpm,omitempty"`
	HRV         *float64 `json:"hrv,omitempty"`
	SpO2        *float64 `json:"spo2,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"`

	// Malformed 记录解码时类型不是数字的字段名
	Malformed []string `json:"-"`
}

// UnmarshalJSON 兼容 bpm / heart_rate 两种字段名；非数字字段记入 Malformed 而不是直接报错，
// 由校验器统一拒绝
func (r *RawReading) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = RawReading{}
	if raw, ok := fields["session_id"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &r.SessionID); err != nil {
			return fmt.Errorf("session_id must be a string: %w", err)
		}
	}

	hrKey := "bpm"
	if _, ok := fields[hrKey]; !ok {
		hrKey = "heart_rate"
	}
	r.HeartRate = r.decodeFloat(fields, hrKey, "heart_rate")
	r.HRV = r.decodeFloat(fields, "hrv", "hrv")
	r.SpO2 = r.decodeFloat(fields, "spo2", "spo2")
	r.Temperature = r.decodeFloat(fields, "temperature", "temperature")

	if raw, ok := fields["timestamp"]; ok && !isNull(raw) {
		var ts json.Number
		if err := json.Unmarshal(raw, &ts); err != nil {
			r.Malformed = append(r.Malformed, "timestamp")
		} else if v, err := ts.Int64(); err != nil {
			// 兼容浮点时间戳（截断到毫秒）
			if f, ferr := ts.Float64(); ferr == nil {
				iv := int64(f)
				r.Timestamp = &iv
			} else {
				r.Malformed = append(r.Malformed, "timestamp")
			}
		} else {
			r.Timestamp = &v
		}
	}

	return nil
}

func (r *RawReading) decodeFloat(fields map[string]json.RawMessage, key, name string) *float64 {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		r.Malformed = append(r.Malformed, name)
		return nil
	}
	return &v
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Reading 校验通过的读数（接受后不可变）
type Reading struct {
	SessionID   string  `json:"session_id"`
	HeartRate   float64 `json:"heart_rate"`
	HRV         float64 `json:"hrv"`
	SpO2        float64 `json:"spo2"`
	Temperature float64 `json:"temperature"`
	Timestamp   int64   `json:"timestamp"` // 毫秒
}

// Baseline 会话个人基线（校准完成后只读）
type Baseline struct {
	RestingHeartRate  float64 `json:"resting_heart_rate"`
	RestingHRV        float64 `json:"resting_hrv"`
	NormalSpO2        float64 `json:"normal_spo2"`
	NormalTemperature float64 `json:"normal_temperature"`
	Complete          bool    `json:"complete"`
	SampleCount       int     `json:"sample_count"` // 参与校准的读数数量
}
