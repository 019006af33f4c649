package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Handler 处理单个 APK，返回该 APK 私有的结果
type Handler interface {
	Handle(ctx context.Context, pkg domain.Package) *TaskResult
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(ctx context.Context, pkg domain.Package) *TaskResult

// Handle 实现 Handler
func (f HandlerFunc) Handle(ctx context.Context, pkg domain.Package) *TaskResult {
	return f(ctx, pkg)
}

// Pool Worker 池
//
// 任务按提交顺序入队，完成顺序不保证。每个任务写自己的结果，
// 汇总在 Stop 返回之后单线程进行。
type Pool struct {
	workers  int
	taskChan chan *task
	handler  Handler
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	wg       sync.WaitGroup
	started  bool
}

// task 任务
type task struct {
	pkg      domain.Package
	slot     *TaskResult      // Run 模式：结果直接写入调用方的切片
	resultCh chan *TaskResult // SubmitAndWait 模式
}

// NewPool 创建 Worker 池，workers 必须 >= 1
func NewPool(workers int, handler Handler, m *metrics.Metrics, logger *logrus.Logger) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker pool size must be >= 1, got %d", workers)
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *task, workers),
		handler:  handler,
		metrics:  m,
		logger:   logger,
	}, nil
}

// Workers Worker 数量
func (p *Pool) Workers() int {
	return p.workers
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")
	if p.metrics != nil {
		p.metrics.SetWorkerPoolSize(p.workers)
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
//
// ctx 取消后仍然把队列消费完，已提交的任务都会得到结果。
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for t := range p.taskChan {
		result := p.execute(ctx, id, t.pkg)

		if t.slot != nil {
			*t.slot = *result
		}
		if t.resultCh != nil {
			t.resultCh <- result
			close(t.resultCh)
		}
	}

	p.logger.WithField("worker_id", id).Debug("Task channel closed, worker exiting")
}

// execute 执行单个任务，panic 被转换为任务失败
func (p *Pool) execute(ctx context.Context, id int, pkg domain.Package) (result *TaskResult) {
	startTime := time.Now()
	if p.metrics != nil {
		p.metrics.TaskStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"apk":       pkg.Name,
				"stack":     string(debug.Stack()),
			}).Errorf("Task panicked: %v", r)
			result = &TaskResult{
				Package: pkg,
				Err:     fmt.Errorf("task panicked: %v", r),
			}
		}

		result.WorkerID = id
		result.Duration = time.Since(startTime)
		p.record(result)
	}()

	p.logger.WithFields(logrus.Fields{
		"worker_id": id,
		"apk":       pkg.Name,
	}).Debug("Processing package")

	result = p.handler.Handle(ctx, pkg)
	if result == nil {
		result = &TaskResult{Package: pkg, Err: fmt.Errorf("handler returned no result")}
	}
	return result
}

func (p *Pool) record(result *TaskResult) {
	fields := logrus.Fields{
		"worker_id": result.WorkerID,
		"apk":       result.Package.Name,
		"duration":  result.Duration.Round(time.Millisecond).String(),
		"libraries": len(result.Counts),
	}
	if result.Extraction != nil {
		fields["extraction"] = result.Extraction.Status
	}

	if result.Err != nil {
		p.logger.WithError(result.Err).WithFields(fields).Warn("Package failed")
	} else {
		p.logger.WithFields(fields).Info("Package completed")
	}

	if p.metrics != nil {
		var extraction string
		var invocations int
		if result.Extraction != nil {
			extraction = string(result.Extraction.Status)
			invocations = result.Extraction.Invocations
		}
		p.metrics.TaskFinished(result.Failed(), extraction, invocations, len(result.Counts), result.Duration)
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, pkg domain.Package) (*TaskResult, error) {
	t := &task{pkg: pkg, resultCh: make(chan *TaskResult, 1)}

	select {
	case p.taskChan <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// 已入队的任务一定会执行完，这里不再响应取消
	return <-t.resultCh, nil
}

// Stop 关闭队列并等待所有任务结束
func (p *Pool) Stop() {
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Debug("Worker pool stopped")
}

// Run 按顺序提交所有 APK，阻塞直到全部完成
//
// 返回的结果与 pkgs 一一对应。
func (p *Pool) Run(ctx context.Context, pkgs []domain.Package) []TaskResult {
	results := make([]TaskResult, len(pkgs))

	p.Start(ctx)
	for i := range pkgs {
		p.taskChan <- &task{pkg: pkgs[i], slot: &results[i]}
	}
	p.Stop()

	return results
}
