package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/aggregate"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format 报告格式
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Document 报告内容，yaml/json 格式和消息队列共用
type Document struct {
	RunID         string                     `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt   time.Time                  `json:"generated_at" yaml:"generated_at"`
	TotalPackages int                        `json:"total_packages" yaml:"total_packages"`
	FailedCount   int                        `json:"failed_count" yaml:"failed_count"`
	Libraries     []domain.LibraryCountEntry `json:"libraries" yaml:"libraries"`
	Failures      []aggregate.Failure        `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// NewDocument 从汇总构建报告，库按名称、版本排序
func NewDocument(runID string, agg *aggregate.Report) *Document {
	return &Document{
		RunID:         runID,
		GeneratedAt:   time.Now().UTC(),
		TotalPackages: agg.TotalPackages,
		FailedCount:   len(agg.Failures),
		Libraries:     agg.Entries(),
		Failures:      agg.SortedFailures(),
	}
}

// Write 按格式写出报告
func Write(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatText, "":
		return writeText(w, doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

// writeText 每行一个库：<库名> <版本>: <次数>
func writeText(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for _, e := range doc.Libraries {
		fmt.Fprintf(bw, "%s %s: %d\n", e.Name, e.Version, e.Count)
	}
	fmt.Fprintf(bw, "Total APKs processed: %d\n", doc.TotalPackages)
	if doc.FailedCount > 0 {
		fmt.Fprintf(bw, "Failed extractions: %d\n", doc.FailedCount)
	}
	return bw.Flush()
}

// WriteFile 写出报告文件，先写临时文件再改名，读者不会看到写了一半的报告
func WriteFile(path string, doc *Document, format Format) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, doc, format); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
