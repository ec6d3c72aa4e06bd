package engine

import (
	"testing"

	"cardiotwin/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestScoreHeartRate(t *testing.T) {
	assert.Equal(t, 100.0, ScoreHeartRate(70, 70))
	assert.Equal(t, 100.0, ScoreHeartRate(60, 70), "below baseline is not penalised")
	assert.InDelta(t, 80, ScoreHeartRate(77, 70), 1e-9)
	assert.InDelta(t, 40, ScoreHeartRate(87.5, 70), 1e-9)
	assert.Equal(t, 0.0, ScoreHeartRate(140, 70))
}

func TestScoreHRV(t *testing.T) {
	assert.Equal(t, 100.0, ScoreHRV(45, 45))
	assert.Equal(t, 100.0, ScoreHRV(60, 45))
	assert.InDelta(t, 50, ScoreHRV(22.5, 45), 1e-9)
	assert.Equal(t, 0.0, ScoreHRV(5, 45))
}

func TestScoreSpO2(t *testing.T) {
	assert.Equal(t, 100.0, ScoreSpO2(98))
	assert.Equal(t, 100.0, ScoreSpO2(97))
	assert.InDelta(t, 75, ScoreSpO2(95), 1e-9)
	assert.Less(t, ScoreSpO2(90), 30.0)
	assert.Equal(t, 0.0, ScoreSpO2(85))
	assert.Equal(t, 0.0, ScoreSpO2(80))
}

func TestScoreTemperature(t *testing.T) {
	assert.Equal(t, 100.0, ScoreTemperature(36.8, 36.6))
	assert.InDelta(t, 70, ScoreTemperature(37.4, 36.6), 1e-9)
	assert.InDelta(t, 70, ScoreTemperature(35.8, 36.6), 1e-9, "deviation in either direction")
	assert.Equal(t, 0.0, ScoreTemperature(39.5, 36.6))
}

func TestScoresClamped(t *testing.T) {
	for _, v := range []float64{30, 50, 70, 120, 220} {
		s := ScoreHeartRate(v, 70)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	assert.Equal(t, 100, DefaultWeights.Sum())
	assert.Equal(t, 1.0, float64(DefaultWeights.Sum())/100)
}

func TestComposite(t *testing.T) {
	assert.Equal(t, 100.0, Composite(100, 100, 100, 100))
	assert.Equal(t, 0.0, Composite(0, 0, 0, 0))
	assert.Equal(t, 50.0, Composite(40, 50, 25, 100))
	assert.Equal(t, 40.0, Composite(0, 100, 0, 0))
	// 结果只取决于输入
	assert.Equal(t, Composite(73.3, 61.2, 88.8, 95.1), Composite(73.3, 61.2, 88.8, 95.1))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "optimal", StatusLabel(80))
	assert.Equal(t, "fair", StatusLabel(79.9))
	assert.Equal(t, "strained", StatusLabel(30))
	assert.Equal(t, "critical", StatusLabel(29.9))
}

func TestScoreComponents_SafetyFloorZeroesSpO2(t *testing.T) {
	b := models.Baseline{RestingHeartRate: 70, RestingHRV: 45, NormalSpO2: 98, NormalTemperature: 36.6, Complete: true}
	c := ScoreComponents(models.Reading{HeartRate: 70, HRV: 45, SpO2: 84, Temperature: 36.6}, b)
	assert.Equal(t, 0.0, c.SpO2.Score)
	assert.Equal(t, "critical", c.SpO2.Status)
	assert.Equal(t, 100.0, c.HeartRate.Score)
	assert.Equal(t, 84.0, c.SpO2.RawValue)
}

func TestClassifyZone_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		zone  models.Zone
	}{
		{100, models.ZoneGreen},
		{80.0, models.ZoneGreen},
		{79.9, models.ZoneYellow},
		{55.0, models.ZoneYellow},
		{54.9, models.ZoneOrange},
		{30.0, models.ZoneOrange},
		{29.9, models.ZoneRed},
		{0, models.ZoneRed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.zone, ClassifyZone(tt.score), "score %.1f", tt.score)
	}
	assert.Equal(t, 4, models.ZoneGreen.Rank())
	assert.Equal(t, 1, models.ZoneRed.Rank())
	assert.Equal(t, "Elevated Risk", models.ZoneOrange.Label())
}
