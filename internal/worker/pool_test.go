package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func packages(n int) []domain.Package {
	pkgs := make([]domain.Package, n)
	for i := range pkgs {
		pkgs[i] = domain.NewPackage(fmt.Sprintf("/apks/app%02d.apk", i))
	}
	return pkgs
}

func okHandler(lib string) HandlerFunc {
	return func(ctx context.Context, pkg domain.Package) *TaskResult {
		return &TaskResult{
			Package: pkg,
			Counts:  domain.LibraryMatchCount{{Name: lib, Version: "1.0"}: 1},
		}
	}
}

// TestNewPool_InvalidSize 测试非法的池大小
func TestNewPool_InvalidSize(t *testing.T) {
	_, err := NewPool(0, okHandler("a"), nil, quietLogger())
	assert.Error(t, err)
}

// TestPool_Run 测试结果与提交顺序一一对应
func TestPool_Run(t *testing.T) {
	pool, err := NewPool(3, okHandler("gson"), nil, quietLogger())
	require.NoError(t, err)

	pkgs := packages(20)
	results := pool.Run(context.Background(), pkgs)

	require.Len(t, results, len(pkgs))
	for i, r := range results {
		assert.Equal(t, pkgs[i], r.Package)
		assert.False(t, r.Failed())
		assert.Equal(t, 1, r.Counts.Total())
	}
}

// TestPool_Bounded 测试并发数不超过池大小
func TestPool_Bounded(t *testing.T) {
	const workers = 2
	var running, peak int32

	handler := HandlerFunc(func(ctx context.Context, pkg domain.Package) *TaskResult {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &TaskResult{Package: pkg}
	})

	pool, err := NewPool(workers, handler, nil, quietLogger())
	require.NoError(t, err)
	pool.Run(context.Background(), packages(10))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(workers))
	assert.Equal(t, int32(0), atomic.LoadInt32(&running))
}

// TestPool_TaskIsolation 测试单个任务失败或 panic 不影响其他任务
func TestPool_TaskIsolation(t *testing.T) {
	pkgs := packages(6)
	handler := HandlerFunc(func(ctx context.Context, pkg domain.Package) *TaskResult {
		switch pkg.Name {
		case "app01":
			panic("corrupt package")
		case "app03":
			return &TaskResult{Package: pkg, Err: errors.New("extraction failed")}
		case "app04":
			return nil
		}
		return okHandler("okhttp")(ctx, pkg)
	})

	pool, err := NewPool(2, handler, nil, quietLogger())
	require.NoError(t, err)

	results := pool.Run(context.Background(), pkgs)
	require.Len(t, results, 6)

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
	assert.Contains(t, results[1].Err.Error(), "panicked")
	assert.Equal(t, pkgs[1], results[1].Package)
	assert.False(t, results[0].Failed())
	assert.False(t, results[5].Failed())
}

// TestPool_CanceledContext 测试取消后已提交的任务仍然全部返回
func TestPool_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := HandlerFunc(func(ctx context.Context, pkg domain.Package) *TaskResult {
		return &TaskResult{Package: pkg, Err: ctx.Err()}
	})
	pool, err := NewPool(2, handler, nil, quietLogger())
	require.NoError(t, err)

	done := make(chan []TaskResult)
	go func() { done <- pool.Run(ctx, packages(5)) }()

	select {
	case results := <-done:
		require.Len(t, results, 5)
		for _, r := range results {
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not join after cancellation")
	}
}

// TestPool_SubmitAndWait 测试逐个提交模式
func TestPool_SubmitAndWait(t *testing.T) {
	m := metrics.NewMetrics(quietLogger(), "pool_test")
	pool, err := NewPool(2, okHandler("retrofit"), m, quietLogger())
	require.NoError(t, err)

	pool.Start(context.Background())
	defer pool.Stop()

	var wg sync.WaitGroup
	results := make([]*TaskResult, 4)
	for i, pkg := range packages(4) {
		wg.Add(1)
		go func(i int, pkg domain.Package) {
			defer wg.Done()
			r, err := pool.SubmitAndWait(context.Background(), pkg)
			require.NoError(t, err)
			results[i] = r
		}(i, pkg)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.False(t, r.Failed())
	}
}
