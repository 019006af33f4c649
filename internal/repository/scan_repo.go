package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"gorm.io/gorm"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("scan run not found")

// ScanRepository 扫描运行数据访问接口
type ScanRepository interface {
	SaveRun(ctx context.Context, run *domain.ScanRun, libraries []domain.LibraryCountEntry) error
	ListRuns(ctx context.Context, page, limit int) ([]domain.ScanRun, int64, error)
	GetRun(ctx context.Context, id string) (*domain.ScanRun, error)
	ListLibraryCounts(ctx context.Context, runID string) ([]domain.LibraryCount, error)
}

type scanRepository struct {
	db *gorm.DB
}

// NewScanRepository 创建扫描运行仓库
func NewScanRepository(db *gorm.DB) ScanRepository {
	return &scanRepository{db: db}
}

// SaveRun 在一个事务中保存运行记录及其库计数
func (r *scanRepository) SaveRun(ctx context.Context, run *domain.ScanRun, libraries []domain.LibraryCountEntry) error {
	run.LibraryCount = len(libraries)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create scan run: %w", err)
		}
		if len(libraries) == 0 {
			return nil
		}

		rows := make([]domain.LibraryCount, 0, len(libraries))
		for _, lib := range libraries {
			rows = append(rows, domain.LibraryCount{
				RunID:   run.ID,
				Name:    lib.Name,
				Version: lib.Version,
				Count:   lib.Count,
			})
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("failed to save library counts: %w", err)
		}
		return nil
	})
}

// ListRuns 分页查询运行记录，最新的在前
func (r *scanRepository) ListRuns(ctx context.Context, page, limit int) ([]domain.ScanRun, int64, error) {
	var runs []domain.ScanRun
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.ScanRun{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scan runs: %w", err)
	}

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	if err := query.Order("started_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query scan runs: %w", err)
	}

	return runs, total, nil
}

// GetRun 根据 ID 获取运行记录
func (r *scanRepository) GetRun(ctx context.Context, id string) (*domain.ScanRun, error) {
	var run domain.ScanRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListLibraryCounts 某次运行的库计数，按次数降序、库名版本升序
func (r *scanRepository) ListLibraryCounts(ctx context.Context, runID string) ([]domain.LibraryCount, error) {
	var counts []domain.LibraryCount
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("count DESC, name ASC, version ASC").
		Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to query library counts: %w", err)
	}
	return counts, nil
}
