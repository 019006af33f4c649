package aggregate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apk-analysis/apk-libdetector/internal/detector"
	"github.com/apk-analysis/apk-libdetector/internal/discovery"
	"github.com/sirupsen/logrus"
)

// CollectFolder 读取一个 Extracted_APKs 目录中每个 APK 的检测结果
//
// 已处理数量为目录中的条目数，每个 APK 对应一个解包目录。
func CollectFolder(dir, resultFile string, logger *logrus.Logger) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	report := New()
	report.TotalPackages = len(entries)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), resultFile)
		result, err := detector.ReadResult(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("no %s", resultFile)
			}
			logger.WithError(err).WithField("apk", entry.Name()).Warn("Skipping package without detection result")
			report.AddFailure(entry.Name(), err.Error())
			continue
		}
		report.AddCounts(result.Counts())
	}

	return report, nil
}

// Collect 发现 root 下所有 Extracted_APKs 目录并汇总
func Collect(root, resultFile string, logger *logrus.Logger) (*Report, []string, error) {
	folders, err := discovery.FindExtractedFolders(root)
	if err != nil {
		return nil, nil, err
	}

	report := New()
	for _, folder := range folders {
		logger.WithField("folder", folder).Info("Computing data for folder")

		part, err := CollectFolder(folder, resultFile, logger)
		if err != nil {
			return nil, nil, err
		}
		report.Merge(part)

		logger.WithFields(logrus.Fields{
			"folder":   folder,
			"packages": part.TotalPackages,
		}).Info("Finished folder")
	}

	logger.WithField("extracted_apks", report.TotalPackages).Infof("Finished computing data. Extracted APKs: %d", report.TotalPackages)
	return report, folders, nil
}
