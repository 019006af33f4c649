package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/apk-analysis/apk-libdetector/internal/detector"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/extractor"
	"github.com/sirupsen/logrus"
)

// Extractor 解包阶段
type Extractor interface {
	Extract(ctx context.Context, pkg domain.Package) *extractor.Result
}

// Detector 检测阶段
type Detector interface {
	Detect(ctx context.Context, artifacts []string) (domain.LibraryMatchCount, []detector.Match, error)
}

// Scanner 单个 APK 的完整处理流程：解包 -> 检测 -> 落盘
type Scanner struct {
	extractor  Extractor
	detector   Detector
	resultFile string
	logger     *logrus.Logger
}

// NewScanner 创建 Scanner
func NewScanner(ex Extractor, det Detector, resultFile string, logger *logrus.Logger) *Scanner {
	return &Scanner{
		extractor:  ex,
		detector:   det,
		resultFile: resultFile,
		logger:     logger,
	}
}

// Handle 实现 Handler
func (s *Scanner) Handle(ctx context.Context, pkg domain.Package) *TaskResult {
	result := &TaskResult{Package: pkg}

	extraction := s.extractor.Extract(ctx, pkg)
	result.Extraction = extraction
	if extraction.Failed() {
		result.Err = fmt.Errorf("extraction failed: %w", errors.New(extraction.Error))
		return result
	}

	counts, matches, err := s.detector.Detect(ctx, extraction.Artifacts)
	if err != nil {
		result.Err = fmt.Errorf("detection failed: %w", err)
		return result
	}
	result.Counts = counts

	path := filepath.Join(extraction.OutputDir, s.resultFile)
	if err := detector.WriteResult(path, detector.NewPackageResult(pkg.Name, counts, matches)); err != nil {
		// 结果已在内存中，落盘失败只影响 collect
		s.logger.WithError(err).WithField("apk", pkg.Name).Warn("Failed to persist package result")
	}

	return result
}
