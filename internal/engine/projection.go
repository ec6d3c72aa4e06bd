package engine

import (
	"fmt"
	"math"

	"cardiotwin/internal/models"
)

const (
	projectionWindow    = 10
	minProjectionPoints = 3
	MaxHorizonDays      = 365

	trendSlopeThreshold    = 0.2
	volatileResidualStdDev = 10.0
	// 每下降 10 分约对应静息心率上升 2.5 bpm
	restingHRPerTenPoints = 2.5

	msPerDay = 86_400_000.0

	ProjectionDisclaimer = "Linear statistical extrapolation of recent scores only. Not a medical forecast or diagnosis."
)

// Project 基于历史得分做最小二乘线性外推。
// 纯函数：相同的 history / horizonDays / fallbackIntervalMs 总是返回相同结果。
func Project(history []models.ScorePoint, horizonDays int, fallbackIntervalMs int64) (*models.Projection, error) {
	if horizonDays < 1 || horizonDays > MaxHorizonDays {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizonDays)
	}
	if len(history) < minProjectionPoints {
		return nil, fmt.Errorf("%w: have %d history points, need %d", ErrInsufficientData, len(history), minProjectionPoints)
	}

	recent := history
	if len(recent) > projectionWindow {
		recent = recent[len(recent)-projectionWindow:]
	}
	scores := make([]float64, len(recent))
	for i, p := range recent {
		scores[i] = p.Score
	}

	slope, intercept := leastSquares(scores)
	perDay := readingsPerDay(recent, fallbackIntervalMs)
	target := float64(len(recent)) + float64(horizonDays)*perDay

	current := scores[len(scores)-1]
	projected := Round1(clampScore(intercept + slope*target))

	currentZone := ClassifyZone(current)
	projectedZone := ClassifyZone(projected)

	return &models.Projection{
		CurrentScore:            current,
		ProjectedScore:          projected,
		ProjectedRestingHRDelta: restingHRDelta(current, projected),
		CurrentZone:             currentZone,
		CurrentZoneLabel:        currentZone.Label(),
		ProjectedZone:           projectedZone,
		ProjectedZoneLabel:      projectedZone.Label(),
		HorizonDays:             horizonDays,
		TrendDirection:          classifyTrend(scores, slope, intercept),
		Slope:                   math.Round(slope*1000) / 1000,
		PointsUsed:              len(recent),
		ReadingsPerDay:          Round1(perDay),
		Disclaimer:              ProjectionDisclaimer,
	}, nil
}

// leastSquares 以下标为 x 拟合 y = intercept + slope·x
func leastSquares(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	xMean := (n - 1) / 2
	yMean := mean(ys)
	var sxy, sxx float64
	for i, y := range ys {
		dx := float64(i) - xMean
		sxy += dx * (y - yMean)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0, yMean
	}
	slope = sxy / sxx
	return slope, yMean - slope*xMean
}

// readingsPerDay 由窗口内时间戳平均间隔推算每日读数量
func readingsPerDay(points []models.ScorePoint, fallbackIntervalMs int64) float64 {
	if len(points) >= 2 {
		span := points[len(points)-1].Timestamp - points[0].Timestamp
		if span > 0 {
			return msPerDay / (float64(span) / float64(len(points)-1))
		}
	}
	if fallbackIntervalMs <= 0 {
		fallbackIntervalMs = DefaultReadingIntervalMs
	}
	return msPerDay / float64(fallbackIntervalMs)
}

func classifyTrend(ys []float64, slope, intercept float64) models.TrendDirection {
	switch {
	case slope > trendSlopeThreshold:
		return models.TrendImproving
	case slope < -trendSlopeThreshold:
		return models.TrendDeclining
	}
	var ss float64
	for i, y := range ys {
		r := y - (intercept + slope*float64(i))
		ss += r * r
	}
	if math.Sqrt(ss/float64(len(ys))) > volatileResidualStdDev {
		return models.TrendVolatile
	}
	return models.TrendStable
}

func restingHRDelta(current, projected float64) float64 {
	decline := current - projected
	if decline <= 0 {
		return 0
	}
	return Round1(decline / 10 * restingHRPerTenPoints)
}
