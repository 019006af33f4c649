package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler 文件处理函数
type FileHandler func(ctx context.Context, filePath string) error

// Options 监控选项
type Options struct {
	Pattern   string        // 文件匹配模式，如 "*.apk"
	Debounce  time.Duration // 防抖时间
	ReadyPoll time.Duration // 判断写入完成的采样间隔
}

// FileWatcher 文件监控器，每个匹配的新文件只处理一次
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	opts     Options
	handler  FileHandler
	logger   *logrus.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	seen   map[string]bool
	wg     sync.WaitGroup
}

// NewFileWatcher 创建文件监控器
func NewFileWatcher(watchDir string, opts Options, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "*"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"pattern":   opts.Pattern,
	}).Info("File watcher created")

	return &FileWatcher{
		watcher:  watcher,
		watchDir: watchDir,
		opts:     opts,
		handler:  handler,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]bool),
	}, nil
}

// Ignore 标记已处理过的文件，之后的事件不再触发处理
func (fw *FileWatcher) Ignore(paths ...string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, p := range paths {
		fw.seen[p] = true
	}
}

// Run 处理文件事件直到 ctx 结束，返回前等待正在处理的文件
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer func() {
		fw.mu.Lock()
		for name, timer := range fw.timers {
			// 已触发的回调会自己 Done
			if timer.Stop() {
				fw.wg.Done()
			}
			delete(fw.timers, name)
		}
		fw.mu.Unlock()
		fw.wg.Wait()
	}()

	// 监控已在 NewFileWatcher 中注册，之前到达的文件由这里补上
	if err := fw.scanExistingFiles(ctx); err != nil {
		fw.logger.WithError(err).Warn("Failed to scan existing files")
	}

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("File watcher stopped")
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			// 新建、写入、移入目录都会产生 Create 或 Write
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fw.matchPattern(filepath.Base(event.Name)) {
				continue
			}
			fw.schedule(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// scanExistingFiles 扫描目录中已有且未处理过的文件
func (fw *FileWatcher) scanExistingFiles(ctx context.Context) error {
	entries, err := os.ReadDir(fw.watchDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !fw.matchPattern(entry.Name()) {
			continue
		}
		fw.schedule(ctx, filepath.Join(fw.watchDir, entry.Name()))
	}
	return nil
}

// schedule 防抖：同一文件短时间内多次触发只处理一次
func (fw *FileWatcher) schedule(ctx context.Context, path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.seen[path] {
		return
	}
	if timer, ok := fw.timers[path]; ok {
		// 回调已开始执行时不再重置
		if timer.Stop() {
			timer.Reset(fw.opts.Debounce)
		}
		return
	}

	fw.wg.Add(1)
	fw.timers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		defer fw.wg.Done()

		fw.mu.Lock()
		delete(fw.timers, path)
		if fw.seen[path] {
			fw.mu.Unlock()
			return
		}
		fw.seen[path] = true
		fw.mu.Unlock()

		fw.handleFile(ctx, path)
	})
}

// handleFile 处理文件
func (fw *FileWatcher) handleFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if err := fw.waitForFileReady(ctx, path); err != nil {
		fw.logger.WithError(err).WithField("file", path).Warn("File not ready")
		// 允许之后的事件重试
		fw.mu.Lock()
		delete(fw.seen, path)
		fw.mu.Unlock()
		return
	}

	fw.logger.WithField("file", filepath.Base(path)).Info("New APK detected")
	if err := fw.handler(ctx, path); err != nil {
		fw.logger.WithError(err).WithField("file", path).Error("Failed to process file")
	}
}

// waitForFileReady 等待文件大小稳定（写入完成）
func (fw *FileWatcher) waitForFileReady(ctx context.Context, path string) error {
	const maxAttempts = 10

	var last int64 = -1
	for i := 0; i < maxAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() > 0 && info.Size() == last {
			return nil
		}
		last = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fw.opts.ReadyPoll):
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// matchPattern 检查文件名是否匹配模式
func (fw *FileWatcher) matchPattern(fileName string) bool {
	if fw.opts.Pattern == "*" {
		return true
	}
	if strings.HasPrefix(fw.opts.Pattern, "*.") {
		ext := strings.TrimPrefix(fw.opts.Pattern, "*")
		return strings.HasSuffix(strings.ToLower(fileName), strings.ToLower(ext))
	}
	return fileName == fw.opts.Pattern
}

// Close 关闭底层 watcher
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
