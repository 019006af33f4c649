package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy 退避策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Config 重试配置
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Strategy        Strategy
	Operation       string // 日志中的操作名
	Logger          *logrus.Logger
}

// DefaultConfig 连接外部服务的默认配置
func DefaultConfig(operation string, logger *logrus.Logger) *Config {
	return &Config{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Strategy:        StrategyExponential,
		Operation:       operation,
		Logger:          logger,
	}
}

// permanentError 不需要重试的错误
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误为不可重试，例如认证失败
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do 执行带重试的操作并返回结果
func Do[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", config.Operation, err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				config.Logger.WithFields(logrus.Fields{
					"operation": config.Operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, fmt.Errorf("%s: %w", config.Operation, err)
		}
		if attempt == config.MaxAttempts {
			break
		}

		config.Logger.WithError(err).WithFields(logrus.Fields{
			"operation": config.Operation,
			"attempt":   attempt,
			"max":       config.MaxAttempts,
			"wait":      interval,
		}).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during wait: %w", config.Operation, ctx.Err())
		case <-time.After(interval):
		}
		interval = nextInterval(config, interval)
	}

	return zero, fmt.Errorf("%s: max attempts (%d) reached: %w", config.Operation, config.MaxAttempts, lastErr)
}

// nextInterval 计算下一次等待时间
func nextInterval(config *Config, current time.Duration) time.Duration {
	next := config.InitialInterval
	if config.Strategy == StrategyExponential {
		next = current * 2
	}
	if config.MaxInterval > 0 && next > config.MaxInterval {
		next = config.MaxInterval
	}
	return next
}
