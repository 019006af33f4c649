package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
)

// PackageResult 单个 APK 的检测结果，落盘到输出目录
type PackageResult struct {
	Package    string                     `json:"package"`
	Libraries  []domain.LibraryCountEntry `json:"libraries"`
	Matches    []Match                    `json:"matches,omitempty"`
	DetectedAt time.Time                  `json:"detected_at"`
}

// Counts 转换为计数表
func (r *PackageResult) Counts() domain.LibraryMatchCount {
	return domain.NewLibraryMatchCount(r.Libraries)
}

// NewPackageResult 由检测结果构建
func NewPackageResult(pkgName string, counts domain.LibraryMatchCount, matches []Match) *PackageResult {
	return &PackageResult{
		Package:    pkgName,
		Libraries:  counts.Entries(),
		Matches:    matches,
		DetectedAt: time.Now().UTC(),
	}
}

// WriteResult 写出检测结果，先写临时文件再改名
func WriteResult(path string, result *PackageResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadResult 读取检测结果
func ReadResult(path string) (*PackageResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var result PackageResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &result, nil
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Identity.Less(matches[j].Identity)
	})
}
