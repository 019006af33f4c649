package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/apk-analysis/apk-libdetector/internal/aggregate"
	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/apk-analysis/apk-libdetector/internal/detector"
	"github.com/apk-analysis/apk-libdetector/internal/discovery"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/extractor"
	"github.com/apk-analysis/apk-libdetector/internal/metrics"
	"github.com/apk-analysis/apk-libdetector/internal/report"
	"github.com/apk-analysis/apk-libdetector/internal/repository"
	"github.com/apk-analysis/apk-libdetector/internal/snapshot"
	"github.com/apk-analysis/apk-libdetector/internal/watcher"
	"github.com/apk-analysis/apk-libdetector/internal/worker"
	"github.com/sirupsen/logrus"
)

// Outcome 一次运行的结果
type Outcome struct {
	Run     *domain.ScanRun
	Report  *aggregate.Report
	Results []worker.TaskResult // collect 模式为空
}

// Dependencies 可选的外部依赖，nil 表示未启用
type Dependencies struct {
	Runner    extractor.Runner
	Repo      repository.ScanRepository
	Publisher report.Publisher
	Metrics   *metrics.Metrics
}

// ScanService 扫描流水线：发现 -> 解包 -> 检测 -> 汇总 -> 输出
type ScanService struct {
	cfg    *config.Config
	deps   Dependencies
	logger *logrus.Logger
}

// NewScanService 创建扫描服务
func NewScanService(cfg *config.Config, deps Dependencies, logger *logrus.Logger) *ScanService {
	return &ScanService{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// newScanner 构建快照与单包处理流程，快照在调度前构建，之后只读
func (s *ScanService) newScanner() (*worker.Scanner, error) {
	snap, err := snapshot.Build(s.cfg.Paths.Libraries, s.logger)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to build library snapshot").
			WithCause(err)
	}

	if err := os.MkdirAll(s.cfg.Paths.Output, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ex := extractor.NewExtractor(extractor.Options{
		OutputRoot:      s.cfg.Paths.Output,
		Timeout:         s.cfg.Extractor.Timeout,
		ConvertMultiDex: s.cfg.Extractor.ConvertMultiDex,
	}, s.deps.Runner, s.logger)
	det := detector.NewDetector(snap, s.cfg.Detector.Threshold, s.logger)

	return worker.NewScanner(ex, det, s.cfg.Detector.ResultFile, s.logger), nil
}

// Scan 处理 APK 目录中的所有 APK
func (s *ScanService) Scan(ctx context.Context) (*Outcome, error) {
	startTime := time.Now()
	s.logger.WithFields(logrus.Fields{
		"libraries": s.cfg.Paths.Libraries,
		"apks":      s.cfg.Paths.APKs,
		"output":    s.cfg.Paths.Output,
		"workers":   s.cfg.Worker.Concurrency,
	}).Info("Starting library detection")

	scanner, err := s.newScanner()
	if err != nil {
		return nil, err
	}

	pkgs, err := discovery.ListPackages(s.cfg.Paths.APKs, s.logger)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to list apks").
			WithCause(err)
	}

	pool, err := worker.NewPool(s.cfg.Worker.Concurrency, scanner, s.deps.Metrics, s.logger)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid worker pool size").
			WithCause(err)
	}

	s.logger.WithField("packages", len(pkgs)).Info("Submitting packages to worker pool")
	results := pool.Run(ctx, pkgs)
	s.logger.Info("Worker pool finished")

	// 汇合之后单线程折叠
	agg := aggregate.FromResults(results)

	run := domain.NewScanRun(domain.ScanSourceScan, s.cfg.Paths.APKs, pool.Workers())
	run.StartedAt = startTime
	if err := s.finish(ctx, run, agg); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"elapsed":  time.Since(startTime).Round(time.Millisecond).String(),
		"packages": agg.TotalPackages,
		"failed":   len(agg.Failures),
	}).Infof("Finished processing %d APKs in %s", agg.TotalPackages, time.Since(startTime).Round(time.Millisecond))

	return &Outcome{Run: run, Report: agg, Results: results}, nil
}

// Watch 持续处理新出现的 APK，增量合入 agg 并重写报告，直到 ctx 结束
//
// done 中的 APK 不会再次处理。
func (s *ScanService) Watch(ctx context.Context, agg *aggregate.Report, done []domain.Package) error {
	scanner, err := s.newScanner()
	if err != nil {
		return err
	}
	pool, err := worker.NewPool(s.cfg.Worker.Concurrency, scanner, s.deps.Metrics, s.logger)
	if err != nil {
		return err
	}

	startTime := time.Now()
	// 两个 Worker 可能同时完成，汇总加锁
	var mu sync.Mutex
	added := 0

	handler := func(ctx context.Context, path string) error {
		pkg := domain.NewPackage(path)
		result, err := pool.SubmitAndWait(ctx, pkg)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		agg.AddResult(result)
		added++
		return s.writeReport(agg, "")
	}

	// 与 ListPackages 一致使用绝对路径，done 中的 APK 才能被识别
	apkDir, err := filepath.Abs(s.cfg.Paths.APKs)
	if err != nil {
		return fmt.Errorf("failed to resolve apk directory: %w", err)
	}
	fw, err := watcher.NewFileWatcher(apkDir, watcher.Options{
		Pattern:  "*" + domain.APKSuffix,
		Debounce: s.cfg.Watch.Debounce,
	}, handler, s.logger)
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, pkg := range done {
		fw.Ignore(pkg.Path)
	}

	pool.Start(ctx)
	s.logger.WithField("apks", apkDir).Info("Watching for new APKs")

	runErr := fw.Run(ctx)
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if added > 0 {
		run := domain.NewScanRun(domain.ScanSourceWatch, s.cfg.Paths.APKs, pool.Workers())
		run.StartedAt = startTime
		// ctx 已结束，收尾使用独立的上下文
		if err := s.finish(context.Background(), run, agg); err != nil {
			return err
		}
	}
	return runErr
}

// Collect 汇总已有的检测结果，不执行解包
func (s *ScanService) Collect(ctx context.Context, root string) (*Outcome, error) {
	startTime := time.Now()
	s.logger.WithField("root", root).Info("Starting data collection")

	agg, folders, err := aggregate.Collect(root, s.cfg.Detector.ResultFile, s.logger)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to collect results").
			WithCause(err)
	}
	if len(folders) == 0 {
		s.logger.WithField("root", root).Warnf("No %s folders found", domain.ExtractedAPKsDirName)
	}

	run := domain.NewScanRun(domain.ScanSourceCollect, root, 0)
	run.StartedAt = startTime
	if err := s.finish(ctx, run, agg); err != nil {
		return nil, err
	}

	s.logger.WithField("elapsed", time.Since(startTime).Round(time.Millisecond).String()).Info("Data collection finished")
	return &Outcome{Run: run, Report: agg}, nil
}

// finish 写报告、保存运行记录、发布消息、输出指标
//
// 只有报告写入失败会返回错误，其余步骤失败只记录日志。
func (s *ScanService) finish(ctx context.Context, run *domain.ScanRun, agg *aggregate.Report) error {
	finished := time.Now()
	run.FinishedAt = &finished
	run.TotalPackages = agg.TotalPackages
	run.FailedCount = len(agg.Failures)
	run.LibraryCount = len(agg.Counts)

	if err := s.writeReport(agg, run.ID); err != nil {
		return err
	}

	if s.deps.Repo != nil {
		if err := s.deps.Repo.SaveRun(ctx, run, agg.Entries()); err != nil {
			s.logger.WithError(err).Error("Failed to save scan run")
		} else {
			s.logger.WithField("run_id", run.ID).Info("Scan run saved")
		}
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(ctx, report.NewDocument(run.ID, agg)); err != nil {
			s.logger.WithError(err).Error("Failed to publish report")
		}
	}

	if s.deps.Metrics != nil && s.cfg.Metrics.Textfile != "" {
		if err := s.deps.Metrics.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
			s.logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	return nil
}

func (s *ScanService) writeReport(agg *aggregate.Report, runID string) error {
	doc := report.NewDocument(runID, agg)
	if err := report.WriteFile(s.cfg.Report.File, doc, report.Format(s.cfg.Report.Format)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"file":      s.cfg.Report.File,
		"libraries": len(doc.Libraries),
		"packages":  doc.TotalPackages,
	}).Info("Report written")
	return nil
}
