package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 进程内指标收集器
// 所有方法对 nil 接收者安全，测试中引擎可不挂指标运行
type Collector struct {
	reg *prometheus.Registry

	tripProgress      prometheus.Gauge
	remainingDistance prometheus.Gauge

	tripsStarted   prometheus.Counter
	tripsCompleted prometheus.Counter

	fixesProcessed       prometheus.Counter
	fixesDropped         prometheus.Counter
	speedSamplesAccepted prometheus.Counter
	speedSamplesRejected prometheus.Counter

	routeFallbacks prometheus.Counter
	snapshotErrors prometheus.Counter
}

// NewCollector 创建并注册全部指标
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		tripProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripwatch_trip_progress_percent",
			Help: "Current trip progress percentage.",
		}),
		remainingDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripwatch_remaining_distance_km",
			Help: "Remaining distance to destination in kilometers.",
		}),
		tripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_trips_started_total",
			Help: "Total trips started.",
		}),
		tripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_trips_completed_total",
			Help: "Total trips that reached the arrival threshold.",
		}),
		fixesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_position_fixes_total",
			Help: "Total position fixes processed by the engine.",
		}),
		fixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_position_fixes_dropped_total",
			Help: "Fixes dropped while a network-bound command was pending.",
		}),
		speedSamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_speed_samples_accepted_total",
			Help: "Speed samples accepted into the history.",
		}),
		speedSamplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_speed_samples_rejected_total",
			Help: "Speed samples rejected by the plausibility band.",
		}),
		routeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_route_fallbacks_total",
			Help: "Route estimates degraded to straight-line distance.",
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_snapshot_errors_total",
			Help: "Failed trip snapshot writes (logged, never surfaced).",
		}),
	}

	reg.MustRegister(
		c.tripProgress, c.remainingDistance,
		c.tripsStarted, c.tripsCompleted,
		c.fixesProcessed, c.fixesDropped,
		c.speedSamplesAccepted, c.speedSamplesRejected,
		c.routeFallbacks, c.snapshotErrors,
	)

	return c
}

// Handler /metrics 的 HTTP 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// ObserveProgress 记录当前进度和剩余距离
func (c *Collector) ObserveProgress(percent, remainingKm float64) {
	if c == nil {
		return
	}
	c.tripProgress.Set(percent)
	c.remainingDistance.Set(remainingKm)
}

// TripStarted 行程开始计数
func (c *Collector) TripStarted() {
	if c == nil {
		return
	}
	c.tripsStarted.Inc()
}

// TripCompleted 行程完成计数
func (c *Collector) TripCompleted() {
	if c == nil {
		return
	}
	c.tripsCompleted.Inc()
}

// FixProcessed 定位处理计数
func (c *Collector) FixProcessed() {
	if c == nil {
		return
	}
	c.fixesProcessed.Inc()
}

// FixDropped 丢弃定位计数（网络操作挂起期间）
func (c *Collector) FixDropped() {
	if c == nil {
		return
	}
	c.fixesDropped.Inc()
}

// SpeedSampleAccepted 速度样本采纳计数
func (c *Collector) SpeedSampleAccepted() {
	if c == nil {
		return
	}
	c.speedSamplesAccepted.Inc()
}

// SpeedSampleRejected 速度样本拒绝计数（合理性带外）
func (c *Collector) SpeedSampleRejected() {
	if c == nil {
		return
	}
	c.speedSamplesRejected.Inc()
}

// RouteFallback 路线降级计数
func (c *Collector) RouteFallback() {
	if c == nil {
		return
	}
	c.routeFallbacks.Inc()
}

// SnapshotError 快照写入失败计数
func (c *Collector) SnapshotError() {
	if c == nil {
		return
	}
	c.snapshotErrors.Inc()
}
