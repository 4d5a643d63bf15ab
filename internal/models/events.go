package models

// ProgressUpdate 行程进度事件（每次定位后推送）
type ProgressUpdate struct {
	ProgressPercentage float64 `json:"progress_percentage"`
	DistanceTraveledKm float64 `json:"distance_traveled_km"`
	RemainingDistanceKm float64 `json:"remaining_distance_km"`
	TotalDistanceKm    float64 `json:"total_distance_km"`
	ETAMinutes         *float64 `json:"eta_minutes,omitempty"`
	ETALabel           string  `json:"eta_label,omitempty"`
}

// NextStopProgress 停靠点进度事件
type NextStopProgress struct {
	ProgressPercentage float64  `json:"progress_percentage"`
	DistanceToStopKm   float64  `json:"distance_to_stop_km"`
	ETAMinutes         *float64 `json:"eta_minutes,omitempty"`
	ETALabel           string   `json:"eta_label,omitempty"`
	Reached            bool     `json:"reached"`
}

// LocationError 定位错误事件
type LocationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal"`
}
