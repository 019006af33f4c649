package extractor

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/sirupsen/logrus"
)

// JarSuffix dex2jar 输出文件后缀
const JarSuffix = "-dex2jar.jar"

// Options 解包器选项
type Options struct {
	OutputRoot string        // 解包输出根目录
	Timeout    time.Duration // 单次 dex2jar 调用超时，0 表示不限制
	// ConvertMultiDex 为 false 时 MultiDex 包只写出 DEX 文件，不调用 dex2jar
	ConvertMultiDex bool
}

// Extractor DEX 提取器
type Extractor struct {
	opts   Options
	runner Runner
	logger *logrus.Logger
}

// NewExtractor 创建提取器
func NewExtractor(opts Options, runner Runner, logger *logrus.Logger) *Extractor {
	return &Extractor{
		opts:   opts,
		runner: runner,
		logger: logger,
	}
}

// OutputDir 返回 APK 对应的输出目录
func (e *Extractor) OutputDir(pkg domain.Package) string {
	return filepath.Join(e.opts.OutputRoot, pkg.Name)
}

// SingleJarPath 单 DEX 包的产物路径
func SingleJarPath(outDir string, pkg domain.Package) string {
	return filepath.Join(outDir, pkg.Name+JarSuffix)
}

// DEXBlobPath MultiDex 包中第 index 个 DEX 的落盘路径（index 从 1 开始）
func DEXBlobPath(outDir string, pkg domain.Package, index int) string {
	return filepath.Join(outDir, fmt.Sprintf("%s(%d).dex", pkg.Name, index))
}

// DEXBlobJarPath MultiDex 包中第 index 个 DEX 转换后的 jar 路径
func DEXBlobJarPath(outDir string, pkg domain.Package, index int) string {
	return filepath.Join(outDir, fmt.Sprintf("%s(%d)%s", pkg.Name, index, JarSuffix))
}

// IsDEXBlob 判断 APK 内的条目是否为 classes*.dex
func IsDEXBlob(name string) bool {
	matched, _ := path.Match("classes*.dex", path.Base(name))
	return matched
}

// pendingItem 需要交给 dex2jar 的输入
type pendingItem struct {
	input  string
	output string
}

// Extract 确保 APK 的字节码产物存在于磁盘
//
// 已存在的产物不会被重新生成，对已解包的 APK 重复调用不会启动任何子进程。
func (e *Extractor) Extract(ctx context.Context, pkg domain.Package) *Result {
	startTime := time.Now()
	outDir := e.OutputDir(pkg)
	result := &Result{
		Package:   pkg,
		OutputDir: outDir,
		Status:    StatusAlreadyPresent,
	}
	defer func() {
		result.Duration = time.Since(startTime)
	}()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		result.fail(fmt.Sprintf("failed to create output dir: %v", err))
		return result
	}

	reader, err := zip.OpenReader(pkg.Path)
	if err != nil {
		result.fail(fmt.Sprintf("failed to open apk: %v", err))
		return result
	}
	defer reader.Close()

	var blobs []*zip.File
	for _, file := range reader.File {
		if IsDEXBlob(file.Name) {
			blobs = append(blobs, file)
		}
	}
	result.DEXCount = len(blobs)

	var pending []pendingItem
	switch {
	case len(blobs) == 0:
		result.fail("no classes*.dex entries in apk")
		return result

	case len(blobs) > 1:
		for i, blob := range blobs {
			index := i + 1
			dexPath := DEXBlobPath(outDir, pkg, index)
			jarPath := DEXBlobJarPath(outDir, pkg, index)

			if !exists(dexPath) {
				if err := writeBlob(blob, dexPath); err != nil {
					result.fail(fmt.Sprintf("failed to extract %s: %v", blob.Name, err))
					continue
				}
				if ok, err := ValidateDEX(dexPath); !ok {
					e.logger.WithError(err).WithField("dex", dexPath).Warn("Extracted DEX has an invalid header")
				}
				result.Extracted = append(result.Extracted, dexPath)
			}

			if !e.opts.ConvertMultiDex {
				result.Artifacts = append(result.Artifacts, dexPath)
				continue
			}
			result.Artifacts = append(result.Artifacts, jarPath)
			if !exists(jarPath) {
				pending = append(pending, pendingItem{input: dexPath, output: jarPath})
			}
		}

	default:
		jarPath := SingleJarPath(outDir, pkg)
		result.Artifacts = append(result.Artifacts, jarPath)
		if !exists(jarPath) {
			pending = append(pending, pendingItem{input: pkg.Path, output: jarPath})
		}
	}

	if len(pending) > 0 || len(result.Extracted) > 0 {
		e.logger.WithFields(logrus.Fields{
			"apk":       pkg.Name,
			"dex_count": result.DEXCount,
			"pending":   len(pending),
		}).Info("Classes.dex files have not been extracted. Extracting now...")
	}

	for _, item := range pending {
		result.Invocations++
		if err := e.convert(ctx, item, outDir); err != nil {
			result.fail(err.Error())
		}
	}

	if result.Status != StatusFailed && (result.Invocations > 0 || len(result.Extracted) > 0) {
		result.Status = StatusConverted
	}

	e.logger.WithFields(logrus.Fields{
		"apk":         pkg.Name,
		"status":      result.Status,
		"dex_count":   result.DEXCount,
		"invocations": result.Invocations,
		"error":       result.Error,
	}).Debug("Extraction finished")

	return result
}

// convert 调用 dex2jar 并确认产物已生成
func (e *Extractor) convert(ctx context.Context, item pendingItem, outDir string) error {
	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	input, err := filepath.Abs(item.input)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", item.input, err)
	}

	if err := e.runner.Run(runCtx, input, outDir); err != nil {
		return fmt.Errorf("convert %s: %w", filepath.Base(item.input), err)
	}

	if !exists(item.output) {
		return fmt.Errorf("convert %s: dex2jar produced no %s", filepath.Base(item.input), filepath.Base(item.output))
	}
	return nil
}

// writeBlob 把 zip 条目原样写到 dst，先写临时文件再改名
func writeBlob(file *zip.File, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}

// ValidateDEX 检查 DEX 头部
func ValidateDEX(dexPath string) (bool, error) {
	file, err := os.Open(dexPath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	// DEX header 最小 112 字节
	if info.Size() < 112 {
		return false, fmt.Errorf("DEX file too small: %d bytes", info.Size())
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(file, magic); err != nil {
		return false, err
	}
	if string(magic) != "dex\n" && string(magic) != "dey\n" {
		return false, fmt.Errorf("invalid DEX magic: %q", magic)
	}

	return true, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
