package engine

import (
	"errors"
	"math"
	"testing"

	"cardiotwin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReading_AcceptsInBounds(t *testing.T) {
	cases := []models.RawReading{
		rawReading(70, 45, 98, 36.6, 1000),
		rawReading(30, 0, 70, 30.0, 1000),
		rawReading(220, 200, 100, 42.0, 1000),
	}
	for _, raw := range cases {
		reading, _, err := ValidateReading(raw, nil, DefaultMaxHeartRateJump)
		require.NoError(t, err)
		assert.Equal(t, *raw.HeartRate, reading.HeartRate)
		assert.Equal(t, *raw.Timestamp, reading.Timestamp)
	}
}

func TestValidateReading_RejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name  string
		raw   models.RawReading
		field string
	}{
		{"heart rate low", rawReading(29.9, 45, 98, 36.6, 1), "heart_rate"},
		{"heart rate high", rawReading(220.1, 45, 98, 36.6, 1), "heart_rate"},
		{"hrv negative", rawReading(70, -1, 98, 36.6, 1), "hrv"},
		{"hrv high", rawReading(70, 201, 98, 36.6, 1), "hrv"},
		{"spo2 low", rawReading(70, 45, 69.9, 36.6, 1), "spo2"},
		{"spo2 high", rawReading(70, 45, 100.1, 36.6, 1), "spo2"},
		{"temperature low", rawReading(70, 45, 98, 29.9, 1), "temperature"},
		{"temperature high", rawReading(70, 45, 98, 42.1, 1), "temperature"},
		{"nan", rawReading(math.NaN(), 45, 98, 36.6, 1), "heart_rate"},
		{"inf", rawReading(70, 45, 98, math.Inf(1), 1), "temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateReading(tt.raw, nil, DefaultMaxHeartRateJump)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateReading_MissingAndMalformed(t *testing.T) {
	raw := rawReading(70, 45, 98, 36.6, 1)
	raw.HRV = nil
	_, _, err := ValidateReading(raw, nil, DefaultMaxHeartRateJump)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "hrv", verr.Field)
	assert.Equal(t, "missing", verr.Reason)

	raw = rawReading(70, 45, 98, 36.6, 1)
	raw.Timestamp = nil
	_, _, err = ValidateReading(raw, nil, DefaultMaxHeartRateJump)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)

	raw = rawReading(70, 45, 98, 36.6, 1)
	raw.Malformed = []string{"spo2"}
	_, _, err = ValidateReading(raw, nil, DefaultMaxHeartRateJump)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "spo2", verr.Field)
}

func TestValidateReading_MotionArtifact(t *testing.T) {
	last := &models.Reading{HeartRate: 70, HRV: 45, SpO2: 98, Temperature: 36.6, Timestamp: 1000}

	_, _, err := ValidateReading(rawReading(110, 45, 98, 36.6, 3000), last, DefaultMaxHeartRateJump)
	assert.NoError(t, err, "a jump of exactly 40 bpm is allowed")

	_, _, err = ValidateReading(rawReading(110.5, 45, 98, 36.6, 3000), last, DefaultMaxHeartRateJump)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "heart_rate", verr.Field)

	// 下降方向同样适用
	last.HeartRate = 75
	_, _, err = ValidateReading(rawReading(34, 45, 98, 36.6, 3000), last, DefaultMaxHeartRateJump)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "heart_rate", verr.Field)
}

func TestValidateReading_OutOfOrderTimestamp(t *testing.T) {
	last := &models.Reading{HeartRate: 70, HRV: 45, SpO2: 98, Temperature: 36.6, Timestamp: 5000}
	_, _, err := ValidateReading(rawReading(70, 45, 98, 36.6, 5000), last, DefaultMaxHeartRateJump)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)
}

func TestValidateReading_SafetyFloorWarning(t *testing.T) {
	_, warnings, err := ValidateReading(rawReading(70, 45, 84, 36.6, 1), nil, DefaultMaxHeartRateJump)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningBelowSafetyFloor}, warnings)

	_, warnings, err = ValidateReading(rawReading(70, 45, 85, 36.6, 1), nil, DefaultMaxHeartRateJump)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
