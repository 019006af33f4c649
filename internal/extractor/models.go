package extractor

import (
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
)

// Status 解包状态
type Status string

const (
	StatusConverted      Status = "converted"       // 本次生成了新的产物
	StatusAlreadyPresent Status = "already_present" // 产物已存在，未做任何事
	StatusFailed         Status = "failed"          // 失败（见 Error）
)

// Result 单个 APK 的解包结果
type Result struct {
	Package     domain.Package `json:"package"`
	OutputDir   string         `json:"output_dir"`
	Status      Status         `json:"status"`
	DEXCount    int            `json:"dex_count"`
	Extracted   []string       `json:"extracted"`   // 本次直接写出的 DEX 文件
	Artifacts   []string       `json:"artifacts"`   // 供检测使用的 jar 路径
	Invocations int            `json:"invocations"` // dex2jar 调用次数
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`
}

// Failed 是否失败
func (r *Result) Failed() bool {
	return r.Status == StatusFailed
}

func (r *Result) fail(reason string) {
	r.Status = StatusFailed
	if r.Error == "" {
		r.Error = reason
		return
	}
	r.Error += "; " + reason
}
