package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(attempts int) *Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := DefaultConfig("test", logger)
	cfg.MaxAttempts = attempts
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 4 * time.Millisecond
	return cfg
}

// TestDo_SuccessAfterRetries 测试重试后成功
func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), testConfig(5), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("connection refused")
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
	assert.Equal(t, 3, attempts)
}

// TestDo_MaxAttemptsReached 测试达到最大尝试次数
func TestDo_MaxAttemptsReached(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), testConfig(3), func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max attempts")
}

// TestDo_Permanent 测试不可重试错误立即返回
func TestDo_Permanent(t *testing.T) {
	attempts := 0
	cause := errors.New("access refused")
	_, err := Do(context.Background(), testConfig(5), func(ctx context.Context) (int, error) {
		attempts++
		return 0, Permanent(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

// TestDo_Canceled 测试上下文取消
func TestDo_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := Do(ctx, testConfig(5), func(ctx context.Context) (int, error) {
		attempts++
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

// TestNextInterval 测试退避间隔
func TestNextInterval(t *testing.T) {
	cfg := testConfig(5)

	assert.Equal(t, 2*time.Millisecond, nextInterval(cfg, time.Millisecond))
	assert.Equal(t, 4*time.Millisecond, nextInterval(cfg, 4*time.Millisecond), "capped at MaxInterval")

	cfg.Strategy = StrategyFixed
	assert.Equal(t, time.Millisecond, nextInterval(cfg, 3*time.Millisecond))
}

// TestIsRetryable 测试默认的可重试判断
func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(Permanent(errors.New("bad credentials"))))
	assert.Nil(t, Permanent(nil))
}
