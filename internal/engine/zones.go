package engine

import "cardiotwin/internal/models"

// 区间下限（含）
const (
	GreenFloor  = 80.0
	YellowFloor = 55.0
	OrangeFloor = 30.0
)

// ClassifyZone 综合分映射到风险区间
func ClassifyZone(score float64) models.Zone {
	switch {
	case score >= GreenFloor:
		return models.ZoneGreen
	case score >= YellowFloor:
		return models.ZoneYellow
	case score >= OrangeFloor:
		return models.ZoneOrange
	default:
		return models.ZoneRed
	}
}
