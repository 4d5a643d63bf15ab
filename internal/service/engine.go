package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripwatch/internal/api/geocoder"
	"tripwatch/internal/api/osrm"
	"tripwatch/internal/config"
	"tripwatch/internal/metrics"
	"tripwatch/internal/models"
	"tripwatch/internal/position"
	"tripwatch/internal/state"
)

// ============ 依赖接口 ============

// AddressResolver 把自由文本地址解析成坐标
type AddressResolver interface {
	Resolve(ctx context.Context, address string) (*models.GeocodedPlace, error)
}

// RouteEstimator 估算两点之间的驾车路线
type RouteEstimator interface {
	Estimate(ctx context.Context, origin, dest models.Coordinate) (*models.RouteEstimate, error)
}

// PositionSource 定位源：单次取位 + 连续订阅
type PositionSource interface {
	Current(ctx context.Context) (*models.PositionFix, error)
	StartTracking(onFix func(models.PositionFix), onError func(error)) error
	StopTracking()
}

// SnapshotStore 行程快照持久化
type SnapshotStore interface {
	Save(ctx context.Context, state *models.TripState) error
	Load(ctx context.Context) (*models.TripSnapshot, error)
	Clear(ctx context.Context) error
}

// EventSink 引擎事件出口。引擎只发送纯数据事件，由上层决定如何呈现
type EventSink interface {
	ProgressUpdate(models.ProgressUpdate)
	NextStopProgress(models.NextStopProgress)
	TripComplete(state *models.TripState)
	LocationError(models.LocationError)
}

// ============ 行程引擎 ============

// TripEngine 行程进度引擎，系统的核心
// 独占持有行程状态，串行处理命令与定位回调
type TripEngine struct {
	cfg       *config.Config
	logger    *zap.Logger
	resolver  AddressResolver
	router    RouteEstimator
	positions PositionSource
	snapshots SnapshotStore
	sink      EventSink
	metrics   *metrics.Collector

	mu      sync.Mutex
	machine *state.Machine
	trip    *models.TripState
	// busy 标记一个挂起的网络操作（start/updateNextStop）。
	// 期间拒绝新命令，并丢弃定位回调，避免读到半成品状态
	busy bool

	lastSnapshotAt time.Time
	lastRefreshAt  time.Time
	refreshing     bool

	now func() time.Time
}

// NewTripEngine 构造行程引擎，所有依赖显式注入
// snapshots 与 metricsCollector 允许为 nil（降级为不持久化/不打点）
func NewTripEngine(
	cfg *config.Config,
	logger *zap.Logger,
	resolver AddressResolver,
	router RouteEstimator,
	positions PositionSource,
	snapshots SnapshotStore,
	sink EventSink,
	metricsCollector *metrics.Collector,
) *TripEngine {
	e := &TripEngine{
		cfg:       cfg,
		logger:    logger,
		resolver:  resolver,
		router:    router,
		positions: positions,
		snapshots: snapshots,
		sink:      sink,
		metrics:   metricsCollector,
		now:       time.Now,
	}
	e.machine = state.NewMachine(func(from, to string) {
		logger.Info("trip state changed",
			zap.String("from", from),
			zap.String("to", to))
	})
	return e
}

// StartResult StartTrip 的返回值
// StopSkipped 表示停靠点解析失败但行程照常开始
type StartResult struct {
	State       *models.TripState `json:"state"`
	StopSkipped bool              `json:"stop_skipped,omitempty"`
	StopError   string            `json:"stop_error,omitempty"`
}

// StartTrip 开始一段行程：取当前位置、解析目的地、估算路线、开启追踪
// nextStopAddress 可选；解析失败不阻止行程开始
func (e *TripEngine) StartTrip(ctx context.Context, destinationAddress, nextStopAddress string) (*StartResult, error) {
	e.mu.Lock()
	if e.machine.Current() != state.StateIdle {
		e.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	if e.busy {
		e.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	e.busy = true
	e.mu.Unlock()
	defer e.clearBusy()

	fix, err := e.positions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("current position: %w", err)
	}

	dest, err := e.resolver.Resolve(ctx, destinationAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	// 行程开始阶段路线失败直接放弃，只有行程中途才允许直线降级
	route, err := e.router.Estimate(ctx, fix.Coordinate, dest.Coordinate)
	if err != nil {
		return nil, fmt.Errorf("estimate route: %w", err)
	}

	result := &StartResult{}
	var nextStop *models.GeocodedPlace
	var nextStopRoute *models.RouteEstimate
	if strings.TrimSpace(nextStopAddress) != "" {
		nextStop, err = e.resolver.Resolve(ctx, nextStopAddress)
		if err != nil {
			e.logger.Warn("next stop resolve failed, starting without stop",
				zap.String("address", nextStopAddress),
				zap.Error(err))
			result.StopSkipped = true
			result.StopError = err.Error()
			nextStop = nil
		} else {
			nextStopRoute = e.estimateOrFallback(ctx, fix.Coordinate, nextStop.Coordinate)
		}
	}

	trip := &models.TripState{
		Origin:          fix.Coordinate,
		Destination:     dest,
		StartTime:       e.now(),
		TotalDistanceKm: route.DistanceKm,
		RouteEstimate:   route,
		LastFix:         fix,
		Active:          true,
	}
	if nextStop != nil {
		origin := fix.Coordinate
		trip.NextStop = nextStop
		trip.NextStopOrigin = &origin
		trip.NextStopRouteEstimate = nextStopRoute
	}

	e.mu.Lock()
	if err := e.machine.Trigger(state.EventStart); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.trip = trip
	e.lastSnapshotAt = e.now()
	e.lastRefreshAt = e.now()
	e.mu.Unlock()

	if err := e.positions.StartTracking(e.OnPosition, e.onPositionError); err != nil {
		e.mu.Lock()
		_ = e.machine.Trigger(state.EventStop)
		_ = e.machine.Trigger(state.EventReset)
		e.trip = nil
		e.mu.Unlock()
		return nil, fmt.Errorf("start tracking: %w", err)
	}

	e.metrics.TripStarted()
	e.logger.Info("trip started",
		zap.String("destination", dest.Label),
		zap.Float64("total_distance_km", route.DistanceKm),
		zap.Bool("has_next_stop", nextStop != nil))

	e.sink.ProgressUpdate(models.ProgressUpdate{
		ProgressPercentage:  0,
		DistanceTraveledKm:  0,
		RemainingDistanceKm: trip.TotalDistanceKm,
		TotalDistanceKm:     trip.TotalDistanceKm,
	})

	e.mu.Lock()
	e.saveSnapshotLocked()
	result.State = e.copyTripLocked()
	e.mu.Unlock()
	return result, nil
}

// UpdateNextStop 设置或变更中途停靠点
// 任一网络步骤失败时原有停靠点保持不变
func (e *TripEngine) UpdateNextStop(ctx context.Context, address string) (*models.TripState, error) {
	if strings.TrimSpace(address) == "" {
		return nil, geocoder.ErrInvalidAddress
	}

	e.mu.Lock()
	if !e.machine.IsActive() {
		e.mu.Unlock()
		return nil, ErrNoActiveTrip
	}
	if e.busy {
		e.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	e.busy = true
	e.mu.Unlock()
	defer e.clearBusy()

	fix, err := e.positions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("current position: %w", err)
	}
	place, err := e.resolver.Resolve(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve next stop: %w", err)
	}
	route := e.estimateOrFallback(ctx, fix.Coordinate, place.Coordinate)

	e.mu.Lock()
	if !e.machine.IsActive() || e.trip == nil {
		e.mu.Unlock()
		return nil, ErrNoActiveTrip
	}
	origin := fix.Coordinate
	e.trip.NextStop = place
	e.trip.NextStopOrigin = &origin
	e.trip.NextStopUpdated = true
	e.trip.NextStopRouteEstimate = route
	progress := e.nextStopProgressLocked(&fix.Coordinate)
	e.saveSnapshotLocked()
	result := e.copyTripLocked()
	e.mu.Unlock()

	e.logger.Info("next stop updated", zap.String("stop", place.Label))
	if progress != nil {
		e.sink.NextStopProgress(*progress)
	}
	return result, nil
}

// ClearNextStop 移除停靠点。没有停靠点时为空操作，不报错也不发事件
func (e *TripEngine) ClearNextStop(ctx context.Context) *models.TripState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trip == nil || e.trip.NextStop == nil {
		return e.copyTripLocked()
	}
	e.trip.NextStop = nil
	e.trip.NextStopOrigin = nil
	e.trip.NextStopUpdated = false
	e.trip.NextStopRouteEstimate = nil
	e.saveSnapshotLocked()
	e.logger.Info("next stop cleared")
	return e.copyTripLocked()
}

// StopTrip 手动结束行程，保留行程数据供查看
// 没有进行中的行程时为空操作
func (e *TripEngine) StopTrip(ctx context.Context) *models.TripState {
	e.mu.Lock()
	if !e.machine.CanTransition(state.EventStop) {
		defer e.mu.Unlock()
		return e.copyTripLocked()
	}
	_ = e.machine.Trigger(state.EventStop)
	if e.trip != nil {
		e.trip.Active = false
	}
	e.saveSnapshotLocked()
	result := e.copyTripLocked()
	e.mu.Unlock()

	e.positions.StopTracking()
	e.logger.Info("trip stopped")
	return result
}

// ResetTrip 丢弃全部行程状态，回到待命
func (e *TripEngine) ResetTrip(ctx context.Context) {
	e.mu.Lock()
	if e.machine.CanTransition(state.EventStop) {
		_ = e.machine.Trigger(state.EventStop)
	}
	if e.machine.CanTransition(state.EventReset) {
		_ = e.machine.Trigger(state.EventReset)
	}
	e.trip = nil
	e.lastSnapshotAt = time.Time{}
	e.lastRefreshAt = time.Time{}
	e.mu.Unlock()

	e.positions.StopTracking()
	if e.snapshots != nil {
		if err := e.snapshots.Clear(ctx); err != nil {
			e.logger.Error("clear snapshot failed", zap.Error(err))
			e.metrics.SnapshotError()
		}
	}
	e.logger.Info("trip reset")
}

// State 当前行程状态的副本，无行程时返回 nil
func (e *TripEngine) State() *models.TripState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyTripLocked()
}

// Phase 当前生命周期状态（idle/active/stopped/completed）
func (e *TripEngine) Phase() string {
	return e.machine.Current()
}

// PhaseSince 进入当前生命周期状态的时间
func (e *TripEngine) PhaseSince() time.Time {
	return e.machine.Since()
}

// Restore 进程启动时从快照恢复行程
// 只有仍在进行中的行程才会恢复并重新开启追踪
func (e *TripEngine) Restore(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	snap, err := e.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil || snap.State == nil || !snap.State.Active {
		return nil
	}

	e.mu.Lock()
	if e.machine.Current() != state.StateIdle {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	if err := e.machine.Trigger(state.EventStart); err != nil {
		e.mu.Unlock()
		return err
	}
	e.trip = snap.State
	e.lastSnapshotAt = e.now()
	e.lastRefreshAt = e.now()
	e.mu.Unlock()

	if err := e.positions.StartTracking(e.OnPosition, e.onPositionError); err != nil {
		e.logger.Warn("tracking unavailable after restore", zap.Error(err))
	}
	e.logger.Info("trip restored from snapshot",
		zap.Time("saved_at", snap.SavedAt),
		zap.Float64("distance_traveled_km", snap.State.DistanceTraveledKm))
	return nil
}

// onPositionError 定位失败回调：分类后作为纯数据事件推给上层
func (e *TripEngine) onPositionError(err error) {
	kind := position.FailKindUnavailable
	fatal := false
	switch {
	case errors.Is(err, position.ErrPermissionDenied):
		kind = position.FailKindPermissionDenied
		fatal = true
	case errors.Is(err, position.ErrTimeout):
		kind = position.FailKindTimeout
	}
	e.logger.Warn("position error", zap.String("kind", kind), zap.Error(err))
	e.sink.LocationError(models.LocationError{
		Kind:    kind,
		Message: err.Error(),
		Fatal:   fatal,
	})
}

// estimateOrFallback 行程中途的路线估算，失败时降级为直线估算
// 降级结果没有时长，ETA 退回低档位计算
func (e *TripEngine) estimateOrFallback(ctx context.Context, origin, dest models.Coordinate) *models.RouteEstimate {
	route, err := e.router.Estimate(ctx, origin, dest)
	if err != nil {
		e.logger.Warn("route estimate failed, using straight line distance", zap.Error(err))
		e.metrics.RouteFallback()
		return osrm.StraightLineEstimate(origin, dest)
	}
	return route
}

func (e *TripEngine) clearBusy() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// saveSnapshotLocked 持久化当前状态，失败只记日志不影响行程
func (e *TripEngine) saveSnapshotLocked() {
	if e.snapshots == nil || e.trip == nil {
		return
	}
	e.lastSnapshotAt = e.now()
	if err := e.snapshots.Save(context.Background(), e.trip); err != nil {
		e.logger.Error("save snapshot failed", zap.Error(err))
		e.metrics.SnapshotError()
	}
}

// copyTripLocked 返回行程状态的深拷贝，外部拿到的永远不是内部指针
func (e *TripEngine) copyTripLocked() *models.TripState {
	if e.trip == nil {
		return nil
	}
	cp := *e.trip
	if e.trip.NextStopOrigin != nil {
		origin := *e.trip.NextStopOrigin
		cp.NextStopOrigin = &origin
	}
	if e.trip.LastFix != nil {
		fix := *e.trip.LastFix
		cp.LastFix = &fix
	}
	if len(e.trip.SpeedHistory) > 0 {
		cp.SpeedHistory = append([]models.SpeedSample(nil), e.trip.SpeedHistory...)
	}
	return &cp
}
