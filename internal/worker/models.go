package worker

import (
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/extractor"
)

// TaskResult 单个 APK 的处理结果，由执行该任务的 Worker 独占写入
type TaskResult struct {
	Package    domain.Package
	Extraction *extractor.Result
	Counts     domain.LibraryMatchCount
	Err        error
	WorkerID   int
	Duration   time.Duration
}

// Failed 是否失败
func (r *TaskResult) Failed() bool {
	return r.Err != nil
}
