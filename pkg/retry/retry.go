// Package retry 提供带指数退避的有界重试。
// 核心问答链路不做隐式重试，需要重试的调用方应显式用本包包装上游调用。
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"doctalk-go/pkg/log"
)

// Config 控制重试行为。
type Config struct {
	MaxAttempts     int           // 总尝试次数（含首次）
	InitialDelay    time.Duration // 首次重试前的等待
	MaxDelay        time.Duration // 退避等待的上限
	Multiplier      float64       // 每次退避的倍率
	JitterFraction  float64       // 抖动比例
	RetryableErrors []error       // 为空表示所有错误都可重试
}

// DefaultConfig 返回一套保守的默认参数。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Do 执行 operation，失败时按配置指数退避重试，返回最后一次的错误。
// ctx 取消会立即中断等待并返回 ctx.Err()。
func Do(ctx context.Context, cfg Config, operation func() error) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 1 {
				log.Infof("[Retry] 第 %d 次尝试成功", attempt)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		log.Warnf("[Retry] 第 %d/%d 次尝试失败，%v 后重试: %v", attempt, cfg.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay, cfg.JitterFraction)):
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.Multiplier))
	}

	return lastErr
}

// DoWithResult 与 Do 相同，但透传操作的返回值。
func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
