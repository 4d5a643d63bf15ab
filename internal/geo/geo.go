package geo

import (
	"github.com/golang/geo/s2"

	"tripwatch/internal/models"
)

// EarthRadiusMeters 地球平均半径（米）
const EarthRadiusMeters = 6371000.0

// DistanceKm 计算两坐标间的大圆距离（公里）
func DistanceKm(a, b models.Coordinate) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters / 1000.0
}

// DistanceMeters 计算两坐标间的大圆距离（米）
func DistanceMeters(a, b models.Coordinate) float64 {
	return DistanceKm(a, b) * 1000.0
}

// ClampPercent 将百分比限制在 [0,100]
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
