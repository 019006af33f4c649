package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/metrics"
	"github.com/apk-analysis/apk-libdetector/internal/report"
	"github.com/apk-analysis/apk-libdetector/internal/repository"
	"github.com/apk-analysis/apk-libdetector/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher Mock 报告发布
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, doc *report.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

var gsonClasses = map[string][]byte{
	"com/google/gson/Gson.class":        []byte("gson-2.8.5-Gson"),
	"com/google/gson/JsonElement.class": []byte("gson-2.8.5-JsonElement"),
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// setupWorkspace 创建白名单、APK 目录和输出目录
//
// 输出目录放在 <batch>/Extracted_APKs 下，collect 可以直接汇总。
func setupWorkspace(t *testing.T) (*config.Config, string) {
	root := t.TempDir()

	cfg, err := config.LoadWith(viper.New(), "")
	require.NoError(t, err)
	cfg.Paths.Libraries = filepath.Join(root, "whitelist")
	cfg.Paths.APKs = filepath.Join(root, "apks")
	cfg.Paths.Output = filepath.Join(root, "batch1", domain.ExtractedAPKsDirName)
	cfg.Report.File = filepath.Join(root, "libMetadata.txt")
	cfg.Metrics.Textfile = filepath.Join(root, "libdetector.prom")
	cfg.Worker.Concurrency = 2
	cfg.Watch.Debounce = 100 * time.Millisecond

	testutil.WriteZip(t, filepath.Join(cfg.Paths.Libraries, "gson", "2.8.5", "gson-2.8.5.jar"), gsonClasses)
	require.NoError(t, os.MkdirAll(cfg.Paths.APKs, 0755))

	testutil.WriteAPK(t, filepath.Join(cfg.Paths.APKs, "alpha.apk"), 1)
	testutil.WriteAPK(t, filepath.Join(cfg.Paths.APKs, "beta.apk"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.APKs, "broken.apk"), []byte("garbage"), 0644))
	// 非 APK 文件不参与处理
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.APKs, "notes.txt"), []byte("x"), 0644))

	return cfg, root
}

func fakeRunner() *testutil.FakeRunner {
	return &testutil.FakeRunner{
		Classes: map[string]map[string][]byte{
			"alpha":   gsonClasses,
			"beta(1)": gsonClasses,
			"beta(2)": {"com/example/Main.class": []byte("Main")},
			"gamma":   gsonClasses,
		},
	}
}

func readReport(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// TestScanService_Scan 测试完整流水线
func TestScanService_Scan(t *testing.T) {
	cfg, _ := setupWorkspace(t)
	logger := quietLogger()

	db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, logger)
	require.NoError(t, err)
	repo := repository.NewScanRepository(db)

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(doc *report.Document) bool {
		return doc.TotalPackages == 3 && doc.FailedCount == 1
	})).Return(nil).Once()

	runner := fakeRunner()
	svc := NewScanService(cfg, Dependencies{
		Runner:    runner,
		Repo:      repo,
		Publisher: publisher,
		Metrics:   metrics.NewMetrics(logger, "test"),
	}, logger)

	outcome, err := svc.Scan(context.Background())
	require.NoError(t, err)

	assert.Len(t, outcome.Results, 3)
	assert.Equal(t, 3, outcome.Report.TotalPackages)
	require.Len(t, outcome.Report.Failures, 1)
	assert.Equal(t, "broken", outcome.Report.Failures[0].Package)
	assert.Equal(t, 3, runner.CallCount(), "alpha once, beta once per dex")

	assert.Equal(t, "gson 2.8.5: 2\nTotal APKs processed: 3\nFailed extractions: 1\n", readReport(t, cfg.Report.File))
	assert.FileExists(t, cfg.Metrics.Textfile)
	publisher.AssertExpectations(t)

	run, err := repo.GetRun(context.Background(), outcome.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanSourceScan, run.Source)
	assert.Equal(t, 3, run.TotalPackages)
	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 2, run.WorkerCount)

	counts, err := repo.ListLibraryCounts(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Count)
}

// TestScanService_Scan_Rerun 测试再次运行复用已有产物
func TestScanService_Scan_Rerun(t *testing.T) {
	cfg, _ := setupWorkspace(t)
	logger := quietLogger()
	runner := fakeRunner()
	svc := NewScanService(cfg, Dependencies{Runner: runner}, logger)

	first, err := svc.Scan(context.Background())
	require.NoError(t, err)
	calls := runner.CallCount()

	second, err := svc.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Report.Counts, second.Report.Counts)
	// 损坏的包在打开时就失败，不会调用 dex2jar
	assert.Equal(t, calls, runner.CallCount())
}

// TestScanService_Scan_BadWhitelist 测试白名单无效时在处理前失败
func TestScanService_Scan_BadWhitelist(t *testing.T) {
	cfg, root := setupWorkspace(t)
	cfg.Paths.Libraries = filepath.Join(root, "empty-whitelist")
	require.NoError(t, os.MkdirAll(cfg.Paths.Libraries, 0755))

	runner := fakeRunner()
	svc := NewScanService(cfg, Dependencies{Runner: runner}, quietLogger())

	_, err := svc.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	assert.Equal(t, 0, runner.CallCount())
	assert.NoFileExists(t, cfg.Report.File)
}

// TestScanService_Collect 测试汇总已有结果与扫描结果一致
func TestScanService_Collect(t *testing.T) {
	cfg, root := setupWorkspace(t)
	logger := quietLogger()
	svc := NewScanService(cfg, Dependencies{Runner: fakeRunner()}, logger)

	scanned, err := svc.Scan(context.Background())
	require.NoError(t, err)

	cfg.Report.File = filepath.Join(root, "collected.txt")
	collected, err := svc.Collect(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, scanned.Report.Counts, collected.Report.Counts)
	assert.Equal(t, 3, collected.Report.TotalPackages)
	assert.Len(t, collected.Report.Failures, 1)
	assert.Equal(t, domain.ScanSourceCollect, collected.Run.Source)
	assert.Equal(t, readReport(t, filepath.Join(root, "libMetadata.txt")), readReport(t, cfg.Report.File))
}

// TestScanService_Collect_NoFolders 测试没有 Extracted_APKs 目录
func TestScanService_Collect_NoFolders(t *testing.T) {
	cfg, root := setupWorkspace(t)
	svc := NewScanService(cfg, Dependencies{}, quietLogger())

	outcome, err := svc.Collect(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Report.TotalPackages)
	assert.Equal(t, "Total APKs processed: 0\n", readReport(t, cfg.Report.File))
}

// TestScanService_Watch 测试监控模式增量处理新 APK
func TestScanService_Watch(t *testing.T) {
	cfg, root := setupWorkspace(t)
	logger := quietLogger()
	runner := fakeRunner()
	svc := NewScanService(cfg, Dependencies{Runner: runner}, logger)

	outcome, err := svc.Scan(context.Background())
	require.NoError(t, err)
	calls := runner.CallCount()

	pkgs := make([]domain.Package, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		pkgs = append(pkgs, r.Package)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, outcome.Report, pkgs)
	}()

	// 无论在 watcher 启动前还是启动后到达，新文件都会被处理
	staged := filepath.Join(root, "gamma.apk")
	testutil.WriteAPK(t, staged, 1)
	require.NoError(t, os.Rename(staged, filepath.Join(cfg.Paths.APKs, "gamma.apk")))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.Report.File)
		return err == nil && string(data) == "gson 2.8.5: 3\nTotal APKs processed: 4\nFailed extractions: 1\n"
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	// 已处理的 APK 不会再次处理
	assert.Equal(t, calls+1, runner.CallCount())
	assert.Equal(t, 4, outcome.Report.TotalPackages)
}
