package engine

import (
	"fmt"
	"sort"

	"cardiotwin/internal/models"
)

const iqrMultiplier = 1.5

// metricSeries 单项指标的校准序列
type metricSeries struct {
	name   string
	values []float64
}

func calibrationSeries(buf []models.Reading) []metricSeries {
	series := []metricSeries{
		{name: "heart_rate"},
		{name: "hrv"},
		{name: "spo2"},
		{name: "temperature"},
	}
	for _, r := range buf {
		series[0].values = append(series[0].values, r.HeartRate)
		series[1].values = append(series[1].values, r.HRV)
		series[2].values = append(series[2].values, r.SpO2)
		series[3].values = append(series[3].values, r.Temperature)
	}
	return series
}

// Calibrate 基于校准缓冲区计算个人基线。
// 每项指标独立做 IQR 离群过滤，保留值求均值；任一指标保留数少于 minClean 返回 ErrCalibrationInsufficient，
// 任一指标全部相同返回 ErrSensorStuck。
func Calibrate(buf []models.Reading, minClean int) (models.Baseline, error) {
	if len(buf) == 0 {
		return models.Baseline{}, fmt.Errorf("%w: empty buffer", ErrCalibrationInsufficient)
	}

	series := calibrationSeries(buf)
	for _, s := range series {
		if allIdentical(s.values) {
			return models.Baseline{}, fmt.Errorf("%w: %s", ErrSensorStuck, s.name)
		}
	}

	means := make([]float64, len(series))
	for i, s := range series {
		kept := FilterOutliers(s.values)
		if len(kept) < minClean {
			return models.Baseline{}, fmt.Errorf("%w: %s kept %d of %d, need %d",
				ErrCalibrationInsufficient, s.name, len(kept), len(s.values), minClean)
		}
		means[i] = mean(kept)
	}

	return models.Baseline{
		RestingHeartRate:  means[0],
		RestingHRV:        means[1],
		NormalSpO2:        means[2],
		NormalTemperature: means[3],
		Complete:          true,
		SampleCount:       len(buf),
	}, nil
}

// FilterOutliers 保留位于 [Q1-1.5·IQR, Q3+1.5·IQR] 内的值（保持原顺序）
func FilterOutliers(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo, hi := q1-iqrMultiplier*iqr, q3+iqrMultiplier*iqr

	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	return kept
}

// quantile 有序序列上的线性插值分位数
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lower := int(pos)
	if lower >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

func allIdentical(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
