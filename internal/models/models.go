package models

import (
	"time"
)

// GeocodeSource 地理编码来源
type GeocodeSource string

const (
	GeocodeSourceAmap      GeocodeSource = "amap"
	GeocodeSourceNominatim GeocodeSource = "nominatim"
)

// Coordinate 经纬度坐标（WGS-84）
// 地理编码或定位产生后不再修改
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid 检查坐标是否在合法范围内
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// GeocodedPlace 地理编码结果：坐标 + 规范化地址
type GeocodedPlace struct {
	Coordinate Coordinate    `json:"coordinate"`
	Label      string        `json:"label"`
	Source     GeocodeSource `json:"source"`
}

// RoadTypeHistogram 道路类型直方图
// 按路段速度阈值分桶：>100 km/h 高速、>80 主干道、>50 次干道、其余居住区道路
type RoadTypeHistogram struct {
	Highway     int `json:"highway"`
	Primary     int `json:"primary"`
	Secondary   int `json:"secondary"`
	Residential int `json:"residential"`
}

// Total 样本总数
func (h RoadTypeHistogram) Total() int {
	return h.Highway + h.Primary + h.Secondary + h.Residential
}

// RouteEstimate 单程路线估算
// 随车辆移动会过期，需要时重新计算；DurationMin 为空表示直线降级估算
type RouteEstimate struct {
	DistanceKm      float64            `json:"distance_km"`
	DurationMin     *float64           `json:"duration_min,omitempty"`
	AverageSpeedKmh float64            `json:"average_speed_kmh"`
	RoadTypes       *RoadTypeHistogram `json:"road_types,omitempty"`
	FetchedAt       time.Time          `json:"fetched_at"`
}

// SpeedSample 瞬时速度样本
// 仅在相邻定位点位移超过最小移动阈值时采样，避免 GPS 抖动污染均值
type SpeedSample struct {
	SpeedKmh  float64   `json:"speed_kmh"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionFix 一次 GPS 定位
type PositionFix struct {
	Coordinate Coordinate `json:"coordinate"`
	AccuracyM  float64    `json:"accuracy_m,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// TripState 行程状态，由 TripProgressEngine 独占持有
type TripState struct {
	Origin      Coordinate     `json:"origin"`
	Destination *GeocodedPlace `json:"destination,omitempty"`

	// 中途停靠点：NextStopOrigin 是停靠点进度的参考起点。
	// 行程开始时设置的停靠点以 Origin 为参考；行程中新增/变更的停靠点
	// 以变更时刻的位置为参考，NextStopUpdated 显式标记这种情况。
	NextStop              *GeocodedPlace `json:"next_stop,omitempty"`
	NextStopOrigin        *Coordinate    `json:"next_stop_origin,omitempty"`
	NextStopUpdated       bool           `json:"next_stop_updated"`
	NextStopRouteEstimate *RouteEstimate `json:"next_stop_route_estimate,omitempty"`

	StartTime          time.Time      `json:"start_time"`
	TotalDistanceKm    float64        `json:"total_distance_km"`
	DistanceTraveledKm float64        `json:"distance_traveled_km"`
	RouteEstimate      *RouteEstimate `json:"route_estimate,omitempty"`

	SpeedHistory []SpeedSample `json:"speed_history,omitempty"`
	LastFix      *PositionFix  `json:"last_fix,omitempty"`
	Active       bool          `json:"active"`
}

// RemainingDistanceKm 剩余距离 = 总距离 - 已行驶距离，下限 0
// 进度百分比与剩余距离共用这一个口径，避免两个数字互相矛盾
func (t *TripState) RemainingDistanceKm() float64 {
	remaining := t.TotalDistanceKm - t.DistanceTraveledKm
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SnapshotSchemaVersion 快照结构版本号
const SnapshotSchemaVersion = 1

// TripSnapshot 持久化的行程快照
type TripSnapshot struct {
	SchemaVersion int        `json:"schema_version"`
	State         *TripState `json:"state"`
	SavedAt       time.Time  `json:"saved_at"`
}
