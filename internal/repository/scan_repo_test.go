package repository

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupScanTestDB 创建扫描记录测试数据库
func setupScanTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to open test database")

	// :memory: 每个连接是独立的数据库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&domain.ScanRun{}, &domain.LibraryCount{})
	require.NoError(t, err, "Failed to migrate test database")

	return db
}

func finishedRun(source domain.ScanSource, started time.Time) *domain.ScanRun {
	run := domain.NewScanRun(source, "/data/apks", 4)
	run.StartedAt = started
	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.TotalPackages = 10
	return run
}

// TestScanRepository_SaveAndGet 测试保存并读取运行记录
func TestScanRepository_SaveAndGet(t *testing.T) {
	repo := NewScanRepository(setupScanTestDB(t))
	ctx := context.Background()

	run := finishedRun(domain.ScanSourceScan, time.Now().Add(-time.Hour))
	libs := []domain.LibraryCountEntry{
		{Name: "gson", Version: "2.8.5", Count: 3},
		{Name: "okhttp", Version: "3.12.0", Count: 7},
		{Name: "androidx.core", Version: "1.9.0", Count: 7},
	}
	require.NoError(t, repo.SaveRun(ctx, run, libs))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanSourceScan, got.Source)
	assert.Equal(t, 3, got.LibraryCount)
	assert.Equal(t, 10, got.TotalPackages)
	assert.Equal(t, time.Minute, got.Duration().Round(time.Second))

	counts, err := repo.ListLibraryCounts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, "androidx.core", counts[0].Name)
	assert.Equal(t, "okhttp", counts[1].Name)
	assert.Equal(t, "gson", counts[2].Name)
}

// TestScanRepository_GetRun_NotFound 测试记录不存在
func TestScanRepository_GetRun_NotFound(t *testing.T) {
	repo := NewScanRepository(setupScanTestDB(t))

	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestScanRepository_SaveRun_Rollback 测试事务回滚
func TestScanRepository_SaveRun_Rollback(t *testing.T) {
	db := setupScanTestDB(t)
	repo := NewScanRepository(db)
	ctx := context.Background()

	run := finishedRun(domain.ScanSourceScan, time.Now())
	dup := []domain.LibraryCountEntry{
		{Name: "gson", Version: "2.8.5", Count: 1},
		{Name: "gson", Version: "2.8.5", Count: 2},
	}
	require.Error(t, repo.SaveRun(ctx, run, dup))

	var total int64
	require.NoError(t, db.Model(&domain.ScanRun{}).Count(&total).Error)
	assert.Equal(t, int64(0), total, "run must not be saved when counts fail")
}

// TestScanRepository_ListRuns 测试分页与排序
func TestScanRepository_ListRuns(t *testing.T) {
	repo := NewScanRepository(setupScanTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveRun(ctx, finishedRun(domain.ScanSourceCollect, base.Add(time.Duration(i)*time.Hour)), nil))
	}

	runs, total, err := repo.ListRuns(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))

	runs, _, err = repo.ListRuns(ctx, 3, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// TestInitDB_SQLite 测试初始化 SQLite 并迁移
func TestInitDB_SQLite(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "nested", "libdetector.db"),
	}
	db, err := InitDB(cfg, logger)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&domain.ScanRun{}))
	assert.True(t, db.Migrator().HasTable(&domain.LibraryCount{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
