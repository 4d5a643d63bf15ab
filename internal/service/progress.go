package service

import (
	"context"

	"go.uber.org/zap"

	"tripwatch/internal/geo"
	"tripwatch/internal/models"
	"tripwatch/internal/state"
)

// OnPosition 定位回调，行程进行中每次定位都会走到这里
// 回调内不做任何网络请求，路线刷新丢到后台执行
func (e *TripEngine) OnPosition(fix models.PositionFix) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		e.metrics.FixDropped()
		return
	}
	if !e.machine.IsActive() || e.trip == nil || e.trip.Destination == nil {
		return
	}
	e.metrics.FixProcessed()
	trip := e.trip

	e.sampleSpeedLocked(fix)
	trip.LastFix = &fix

	// 已行驶 = 起点到当前位置的大圆距离；剩余 = 总距离 - 已行驶。
	// 二者共用一个口径，路线刷新会周期性校正偏差
	trip.DistanceTraveledKm = geo.DistanceKm(trip.Origin, fix.Coordinate)
	remaining := trip.RemainingDistanceKm()

	if remaining <= e.cfg.ArrivalThresholdKm {
		e.completeLocked()
		return
	}

	e.maybeRefreshRouteLocked(fix.Coordinate)

	percent := 0.0
	if trip.TotalDistanceKm > 0 && len(trip.SpeedHistory) >= e.cfg.MinSamplesForProgress {
		percent = geo.ClampPercent((trip.TotalDistanceKm - remaining) / trip.TotalDistanceKm * 100)
	}

	eta := estimateETA(etaInput{
		RemainingKm:        remaining,
		LegTotalKm:         trip.TotalDistanceKm,
		Route:              trip.RouteEstimate,
		SpeedHistory:       trip.SpeedHistory,
		StartTime:          trip.StartTime,
		DistanceTraveledKm: trip.DistanceTraveledKm,
		Now:                e.now(),
	})
	update := models.ProgressUpdate{
		ProgressPercentage:  percent,
		DistanceTraveledKm:  trip.DistanceTraveledKm,
		RemainingDistanceKm: remaining,
		TotalDistanceKm:     trip.TotalDistanceKm,
		ETAMinutes:          eta,
	}
	if eta != nil {
		update.ETALabel = FormatETA(*eta)
	}
	e.sink.ProgressUpdate(update)
	e.metrics.ObserveProgress(percent, remaining)

	if trip.NextStop != nil {
		if progress := e.nextStopProgressLocked(&fix.Coordinate); progress != nil {
			e.sink.NextStopProgress(*progress)
		}
	}

	if e.cfg.SnapshotInterval > 0 && e.now().Sub(e.lastSnapshotAt) >= e.cfg.SnapshotInterval {
		e.saveSnapshotLocked()
	}
}

// sampleSpeedLocked 从相邻两次定位提取一个速度样本
// 位移不足最小阈值或速度超出合理区间的样本直接丢弃
func (e *TripEngine) sampleSpeedLocked(fix models.PositionFix) {
	trip := e.trip
	if trip.LastFix == nil {
		return
	}
	elapsed := fix.Timestamp.Sub(trip.LastFix.Timestamp)
	if elapsed <= 0 {
		return
	}
	displacementM := geo.DistanceMeters(trip.LastFix.Coordinate, fix.Coordinate)
	if displacementM < e.cfg.MinMovementMeters {
		return
	}
	speed := displacementM / 1000 / elapsed.Hours()
	if speed <= 0 || speed >= e.cfg.MaxSpeedKmh {
		e.metrics.SpeedSampleRejected()
		e.logger.Debug("speed sample rejected",
			zap.Float64("speed_kmh", speed),
			zap.Float64("displacement_m", displacementM))
		return
	}
	trip.SpeedHistory = append(trip.SpeedHistory, models.SpeedSample{
		SpeedKmh:  speed,
		Timestamp: fix.Timestamp,
	})
	if max := e.cfg.SpeedHistorySize; max > 0 && len(trip.SpeedHistory) > max {
		trip.SpeedHistory = trip.SpeedHistory[len(trip.SpeedHistory)-max:]
	}
	e.metrics.SpeedSampleAccepted()
}

// completeLocked 到达目的地：恰好发出一次 trip_complete，之后的定位不再产生事件
func (e *TripEngine) completeLocked() {
	trip := e.trip
	trip.DistanceTraveledKm = trip.TotalDistanceKm
	trip.Active = false
	if err := e.machine.Trigger(state.EventComplete); err != nil {
		e.logger.Error("complete transition failed", zap.Error(err))
		return
	}

	e.positions.StopTracking()
	e.saveSnapshotLocked()
	e.metrics.TripCompleted()
	e.logger.Info("trip completed",
		zap.Float64("total_distance_km", trip.TotalDistanceKm))

	eta := 0.0
	e.sink.ProgressUpdate(models.ProgressUpdate{
		ProgressPercentage:  100,
		DistanceTraveledKm:  trip.TotalDistanceKm,
		RemainingDistanceKm: 0,
		TotalDistanceKm:     trip.TotalDistanceKm,
		ETAMinutes:          &eta,
		ETALabel:            FormatETA(eta),
	})
	e.sink.TripComplete(e.copyTripLocked())
}

// nextStopProgressLocked 计算停靠点进度
// 参考起点是 NextStopOrigin：行程起点或变更停靠点时的位置。
// 拿不到当前位置时容忍为 0% 而不是报错
func (e *TripEngine) nextStopProgressLocked(current *models.Coordinate) *models.NextStopProgress {
	trip := e.trip
	if trip == nil || trip.NextStop == nil || trip.NextStopOrigin == nil {
		return nil
	}
	if current == nil {
		return &models.NextStopProgress{}
	}

	stop := trip.NextStop.Coordinate
	totalToStop := geo.DistanceKm(*trip.NextStopOrigin, stop)
	if trip.NextStopRouteEstimate != nil && trip.NextStopRouteEstimate.DistanceKm > 0 {
		totalToStop = trip.NextStopRouteEstimate.DistanceKm
	}

	// 进度 = 从参考起点已行驶的距离 / 到停靠点的总距离。
	// 参考起点处的进度恒为 0，不受路线距离与直线距离之差影响
	traveled := geo.DistanceKm(*trip.NextStopOrigin, *current)
	distToStop := geo.DistanceKm(*current, stop)
	percent := 0.0
	if totalToStop > 0 {
		percent = geo.ClampPercent(traveled / totalToStop * 100)
	}

	progress := &models.NextStopProgress{
		ProgressPercentage: percent,
		DistanceToStopKm:   distToStop,
		Reached:            distToStop <= e.cfg.ArrivalThresholdKm,
	}
	if progress.Reached {
		progress.ProgressPercentage = 100
	}
	eta := estimateETA(etaInput{
		RemainingKm:        distToStop,
		LegTotalKm:         totalToStop,
		Route:              trip.NextStopRouteEstimate,
		SpeedHistory:       trip.SpeedHistory,
		StartTime:          trip.StartTime,
		DistanceTraveledKm: trip.DistanceTraveledKm,
		Now:                e.now(),
	})
	progress.ETAMinutes = eta
	if eta != nil {
		progress.ETALabel = FormatETA(*eta)
	}
	return progress
}

// maybeRefreshRouteLocked 周期性在后台重估路线，校正直线距离的偏差
// 同一时刻最多一个刷新在途；失败只记日志，行程继续用旧估算
func (e *TripEngine) maybeRefreshRouteLocked(current models.Coordinate) {
	if e.cfg.RouteRefreshInterval <= 0 || e.refreshing {
		return
	}
	if e.now().Sub(e.lastRefreshAt) < e.cfg.RouteRefreshInterval {
		return
	}
	trip := e.trip
	if trip.Destination == nil {
		return
	}
	e.refreshing = true
	e.lastRefreshAt = e.now()
	dest := trip.Destination.Coordinate

	go func() {
		route, err := e.router.Estimate(context.Background(), current, dest)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.refreshing = false
		if err != nil {
			e.logger.Warn("route refresh failed", zap.Error(err))
			e.metrics.RouteFallback()
			return
		}
		if e.trip == nil || !e.machine.IsActive() {
			return
		}
		// 用新路线的剩余里程反推已行驶距离，保持减法口径一致
		e.trip.RouteEstimate = route
		traveled := e.trip.TotalDistanceKm - route.DistanceKm
		if traveled > e.trip.DistanceTraveledKm {
			e.trip.DistanceTraveledKm = traveled
		}
		e.logger.Info("route refreshed",
			zap.Float64("remaining_km", route.DistanceKm))
	}()
}
