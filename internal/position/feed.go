package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripwatch/internal/models"
)

// 定位错误闭合分类
var (
	// ErrPermissionDenied 设备永久拒绝定位授权，会话级致命错误
	ErrPermissionDenied = errors.New("position permission denied")
	// ErrUnavailable 定位暂时不可用
	ErrUnavailable = errors.New("position unavailable")
	// ErrTimeout 等待定位超时
	ErrTimeout = errors.New("position timeout")
)

// 设备上报的错误类型标识
const (
	FailKindPermissionDenied = "permission_denied"
	FailKindUnavailable      = "unavailable"
	FailKindTimeout          = "timeout"
)

// Config 定位源配置
type Config struct {
	// CacheMaxAge 单次定位可复用缓存定位的最大年龄
	CacheMaxAge time.Duration
	// Timeout 单次定位等待新定位的超时
	Timeout time.Duration
}

type waitResult struct {
	fix models.PositionFix
	err error
}

// Feed 设备定位源
// 定位由设备通过 ingest 接口推入（Publish/Fail），对外提供
// 单次拉取（Current）和连续订阅（StartTracking/StopTracking）两种模式。
type Feed struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	lastFix  *models.PositionFix
	denied   bool
	waiters  []chan waitResult
	onFix    func(models.PositionFix)
	onError  func(error)
	tracking bool
}

// NewFeed 创建定位源
func NewFeed(cfg Config, logger *zap.Logger) *Feed {
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Feed{cfg: cfg, logger: logger}
}

// Publish 推入一次设备定位
func (f *Feed) Publish(fix models.PositionFix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	f.mu.Lock()
	f.lastFix = &fix
	waiters := f.waiters
	f.waiters = nil
	onFix := f.onFix
	tracking := f.tracking
	f.mu.Unlock()

	for _, w := range waiters {
		w <- waitResult{fix: fix}
	}

	if tracking && onFix != nil {
		onFix(fix)
	}
}

// Fail 设备上报定位失败，归一化为闭合错误分类
// permission_denied 为永久性错误：之后的定位请求直接失败
func (f *Feed) Fail(kind string) {
	err := normalizeKind(kind)

	f.mu.Lock()
	if errors.Is(err, ErrPermissionDenied) {
		f.denied = true
	}
	waiters := f.waiters
	f.waiters = nil
	onError := f.onError
	tracking := f.tracking
	f.mu.Unlock()

	f.logger.Warn("Position source reported failure", zap.String("kind", kind))

	for _, w := range waiters {
		w <- waitResult{err: err}
	}

	if tracking && onError != nil {
		onError(err)
	}
}

// Current 单次定位：优先返回未过期的缓存定位，否则等待下一次定位直到超时
func (f *Feed) Current(ctx context.Context) (*models.PositionFix, error) {
	f.mu.Lock()
	if f.denied {
		f.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	if f.lastFix != nil && time.Since(f.lastFix.Timestamp) <= f.cfg.CacheMaxAge {
		fix := *f.lastFix
		f.mu.Unlock()
		return &fix, nil
	}

	w := make(chan waitResult, 1)
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	timer := time.NewTimer(f.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-w:
		if res.err != nil {
			return nil, res.err
		}
		return &res.fix, nil
	case <-timer.C:
		f.removeWaiter(w)
		return nil, ErrTimeout
	case <-ctx.Done():
		f.removeWaiter(w)
		return nil, ctx.Err()
	}
}

// StartTracking 开始连续订阅
func (f *Feed) StartTracking(onFix func(models.PositionFix), onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		return ErrPermissionDenied
	}
	f.onFix = onFix
	f.onError = onError
	f.tracking = true
	return nil
}

// StopTracking 停止连续订阅
func (f *Feed) StopTracking() {
	f.mu.Lock()
	f.onFix = nil
	f.onError = nil
	f.tracking = false
	f.mu.Unlock()
}

// LastFix 最近一次定位（可能为 nil）
func (f *Feed) LastFix() *models.PositionFix {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastFix == nil {
		return nil
	}
	fix := *f.lastFix
	return &fix
}

func (f *Feed) removeWaiter(w chan waitResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.waiters {
		if other == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

func normalizeKind(kind string) error {
	switch kind {
	case FailKindPermissionDenied:
		return ErrPermissionDenied
	case FailKindTimeout:
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}
