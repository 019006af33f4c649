package discovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/sirupsen/logrus"
)

// FindExtractedFolders 查找已解包的 APK 目录
//
// 如果 root 下直接存在 Extracted_APKs 目录，只返回这一个目录；
// 否则检查 root 的每个直接子目录，收集其中的 Extracted_APKs。
// 不做更深层的递归，没有匹配时返回空切片。
func FindExtractedFolders(root string) ([]string, error) {
	direct := filepath.Join(root, domain.ExtractedAPKsDirName)
	if isDir(direct) {
		return []string{direct}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}

	folders := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(root, entry.Name(), domain.ExtractedAPKsDirName)
		if isDir(child) {
			folders = append(folders, child)
		}
	}

	return folders, nil
}

// ListPackages 列出目录中的 APK 文件，保持目录顺序
func ListPackages(apkDir string, logger *logrus.Logger) ([]domain.Package, error) {
	entries, err := os.ReadDir(apkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read apk directory: %w", err)
	}

	abs, err := filepath.Abs(apkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve apk directory: %w", err)
	}

	packages := []domain.Package{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !domain.IsAPK(entry.Name()) {
			logger.WithField("file", entry.Name()).Warn("Not an APK, skipping file")
			continue
		}
		packages = append(packages, domain.NewPackage(filepath.Join(abs, entry.Name())))
	}

	return packages, nil
}

// CountEntries 统计目录中的条目数量（文件和子目录都算）
func CountEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
