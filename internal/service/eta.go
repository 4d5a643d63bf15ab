package service

import (
	"fmt"
	"math"
	"time"

	"tripwatch/internal/models"
)

// ============ 到达时间估算 ============

// 各道路类型的经验车速（km/h），用于路况直方图加权
const (
	speedHighwayKmh     = 120.0
	speedPrimaryKmh     = 90.0
	speedSecondaryKmh   = 75.0
	speedResidentialKmh = 40.0
)

const (
	// routeFreshness 路线时长直接可用的新鲜度窗口
	routeFreshness = 5 * time.Minute
	// speedSampleMaxAge 超龄速度样本不参与近期均值
	speedSampleMaxAge = 5 * time.Minute

	// 兜底平均速度的合理区间与默认值（km/h）
	plainSpeedFloorKmh   = 20.0
	plainSpeedCeilKmh    = 120.0
	plainSpeedDefaultKmh = 80.0
)

// etaInput 估算一段剩余里程所需的全部上下文。
type etaInput struct {
	RemainingKm        float64
	LegTotalKm         float64
	Route              *models.RouteEstimate
	SpeedHistory       []models.SpeedSample
	StartTime          time.Time
	DistanceTraveledKm float64
	Now                time.Time
}

// estimateETA 返回预计剩余分钟数。剩余里程为零时返回零。
//
// 估算按三档退化：路线时长新鲜则按剩余比例折算；否则用路况
// 直方图速度与近期实测速度按 40/60 混合；再不行退回起步以来的
// 平均速度。最终速度还会按剩余里程做一次常识性修正。
func estimateETA(in etaInput) *float64 {
	if in.RemainingKm <= 0 {
		zero := 0.0
		return &zero
	}

	speed := etaSpeedKmh(in)
	speed = clampSpeedForDistance(speed, in.RemainingKm)
	if speed <= 0 {
		return nil
	}
	minutes := in.RemainingKm / speed * 60
	return &minutes
}

// etaSpeedKmh 选出当前最可信的速度来源。
func etaSpeedKmh(in etaInput) float64 {
	// 档位一：路线时长仍新鲜，按剩余里程比例折算出隐含速度
	if in.Route != nil && in.Route.DurationMin != nil && *in.Route.DurationMin > 0 &&
		in.LegTotalKm > 0 && in.Now.Sub(in.Route.FetchedAt) <= routeFreshness {
		remainMin := *in.Route.DurationMin * (in.RemainingKm / in.LegTotalKm)
		if remainMin > 0 {
			return in.RemainingKm / remainMin * 60
		}
	}

	// 档位二：路况直方图速度与近期实测混合
	if in.Route != nil && in.Route.RoadTypes != nil && in.Route.RoadTypes.Total() > 0 {
		hist := histogramSpeedKmh(in.Route.RoadTypes)
		recent := recentSpeedKmh(in.SpeedHistory, in.Now)
		if recent > 0 {
			return 0.4*hist + 0.6*recent
		}
		return hist
	}

	// 档位三：起步以来的朴素平均速度
	elapsed := in.Now.Sub(in.StartTime).Hours()
	if elapsed > 0 && in.DistanceTraveledKm > 0 {
		avg := in.DistanceTraveledKm / elapsed
		if avg >= plainSpeedFloorKmh && avg <= plainSpeedCeilKmh {
			return avg
		}
	}
	return plainSpeedDefaultKmh
}

// histogramSpeedKmh 按各道路类型占比加权的期望速度。
func histogramSpeedKmh(h *models.RoadTypeHistogram) float64 {
	total := h.Total()
	if total == 0 {
		return plainSpeedDefaultKmh
	}
	sum := float64(h.Highway)*speedHighwayKmh +
		float64(h.Primary)*speedPrimaryKmh +
		float64(h.Secondary)*speedSecondaryKmh +
		float64(h.Residential)*speedResidentialKmh
	return sum / float64(total)
}

// recentSpeedKmh 对未超龄的样本做线性加权平均，越新权重越大。
// 没有可用样本时返回零。
func recentSpeedKmh(history []models.SpeedSample, now time.Time) float64 {
	var weighted, weights float64
	w := 0.0
	for _, s := range history {
		if now.Sub(s.Timestamp) > speedSampleMaxAge {
			continue
		}
		w++
		weighted += s.SpeedKmh * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// clampSpeedForDistance 按剩余里程修正明显失真的速度：
// 长途不会一直低速，临近目的地也不会持续高速。
func clampSpeedForDistance(speed, remainingKm float64) float64 {
	switch {
	case remainingKm > 50:
		return math.Max(speed, 80)
	case remainingKm >= 10:
		return math.Max(speed, 60)
	default:
		return math.Min(speed, 50)
	}
}

// FormatETA 把剩余分钟数渲染成给用户看的文案。
func FormatETA(minutes float64) string {
	if minutes <= 5 {
		return "almost there"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", int(math.Round(minutes)))
	}
	total := int(math.Round(minutes))
	hours := total / 60
	mins := total % 60
	if mins == 0 {
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
