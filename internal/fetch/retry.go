package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTemporarilyUnavailable 冷却窗口内直接拒绝调用
var ErrTemporarilyUnavailable = errors.New("temporarily unavailable")

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
	DefaultCooldown    = 30 * time.Second
)

// Fetcher 有界重试 + 冷却的调用包装器
// 限定次数的固定间隔重试，耗尽后进入冷却窗口，窗口内所有调用
// 立即失败；窗口过期后恢复重试。统一应用于地理编码和路线估算客户端。
type Fetcher struct {
	maxAttempts int
	retryDelay  time.Duration
	cooldown    time.Duration
	logger      *zap.Logger

	mu            sync.Mutex
	cooldownUntil time.Time

	// 测试注入
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建 Fetcher，非法参数回退到默认值
func New(logger *zap.Logger, maxAttempts int, retryDelay, cooldown time.Duration) *Fetcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Fetcher{
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		cooldown:    cooldown,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Do 执行操作：最多 maxAttempts 次尝试，失败间隔 retryDelay；
// 全部失败后进入冷却，冷却期间返回 ErrTemporarilyUnavailable
func (f *Fetcher) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	f.mu.Lock()
	if until := f.cooldownUntil; f.now().Before(until) {
		f.mu.Unlock()
		return fmt.Errorf("%s in cooldown until %s: %w", name, until.Format(time.RFC3339), ErrTemporarilyUnavailable)
	}
	f.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		f.logger.Warn("Operation attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.maxAttempts),
			zap.Error(lastErr))

		if attempt < f.maxAttempts {
			if err := f.sleep(ctx, f.retryDelay); err != nil {
				return err
			}
		}
	}

	f.mu.Lock()
	f.cooldownUntil = f.now().Add(f.cooldown)
	f.mu.Unlock()

	f.logger.Warn("Operation exhausted retries, entering cooldown",
		zap.String("operation", name),
		zap.Duration("cooldown", f.cooldown))

	return fmt.Errorf("%s failed after %d attempts: %w", name, f.maxAttempts, lastErr)
}

// InCooldown 当前是否处于冷却窗口
func (f *Fetcher) InCooldown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.cooldownUntil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
