package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScanSource 扫描来源
type ScanSource string

const (
	ScanSourceScan    ScanSource = "scan"    // 完整流水线
	ScanSourceCollect ScanSource = "collect" // 汇总已有结果
	ScanSourceWatch   ScanSource = "watch"   // 监控模式增量
)

// ScanRun 一次扫描运行记录
type ScanRun struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Source        ScanSource `gorm:"type:varchar(20);not null;index:idx_source" json:"source"`
	RootPath      string     `gorm:"type:varchar(1000)" json:"root_path"`
	WorkerCount   int        `gorm:"default:0" json:"worker_count"`
	TotalPackages int        `gorm:"default:0" json:"total_packages"`
	FailedCount   int        `gorm:"default:0" json:"failed_count"`
	LibraryCount  int        `gorm:"default:0" json:"library_count"` // 不同库标识数量
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index:idx_created_at" json:"created_at"`
}

func (ScanRun) TableName() string {
	return "scan_runs"
}

// NewScanRun 创建新的扫描运行
func NewScanRun(source ScanSource, rootPath string, workers int) *ScanRun {
	return &ScanRun{
		ID:          uuid.New().String(),
		Source:      source,
		RootPath:    rootPath,
		WorkerCount: workers,
		StartedAt:   time.Now(),
	}
}

// Duration 运行耗时
func (r *ScanRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// LibraryCount 某次运行中单个库的汇总计数
type LibraryCount struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID   string `gorm:"type:varchar(36);not null;uniqueIndex:uk_run_library" json:"run_id"`
	Name    string `gorm:"type:varchar(255);not null;uniqueIndex:uk_run_library" json:"name"`
	Version string `gorm:"type:varchar(100);not null;uniqueIndex:uk_run_library" json:"version"`
	Count   int    `gorm:"not null" json:"count"`
}

func (LibraryCount) TableName() string {
	return "scan_library_counts"
}
