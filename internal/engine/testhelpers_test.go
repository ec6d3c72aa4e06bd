package engine

import (
	"cardiotwin/internal/models"
)

// noise 15 个对称偏移，合计为 0
var noise = []float64{0, 0.5, -0.5, 1, -1, 0.25, -0.25, 0.75, -0.75, 0, 0.5, -0.5, 0.25, -0.25, 0}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64    { return &v }

func rawReading(hr, hrv, spo2, temp float64, ts int64) models.RawReading {
	return models.RawReading{
		HeartRate:   floatPtr(hr),
		HRV:         floatPtr(hrv),
		SpO2:        floatPtr(spo2),
		Temperature: floatPtr(temp),
		Timestamp:   int64Ptr(ts),
	}
}

// cleanReading 第 i 条围绕 {70, 45, 98, 36.6} 轻微波动的读数
func cleanReading(i int) models.RawReading {
	k := noise[i%len(noise)]
	return rawReading(70+2*k, 45+2*k, 98+k, 36.6+0.1*k, int64(1000+i*2000))
}

func cleanBuffer(n int) []models.Reading {
	buf := make([]models.Reading, n)
	for i := range buf {
		r := cleanReading(i)
		buf[i] = models.Reading{
			HeartRate:   *r.HeartRate,
			HRV:         *r.HRV,
			SpO2:        *r.SpO2,
			Temperature: *r.Temperature,
			Timestamp:   *r.Timestamp,
		}
	}
	return buf
}
