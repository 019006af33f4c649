package aggregate

import (
	"sort"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/worker"
)

// Failure 处理失败的 APK
type Failure struct {
	Package string `json:"package" yaml:"package"`
	Reason  string `json:"reason" yaml:"reason"`
}

// Report 全局汇总：库标识 -> 出现次数，以及处理过的 APK 总数
//
// Report 不是并发安全的，并发场景下由调用方加锁或在汇合后单线程折叠。
type Report struct {
	Counts        domain.LibraryMatchCount
	TotalPackages int
	Failures      []Failure
}

// New 创建空的汇总
func New() *Report {
	return &Report{Counts: make(domain.LibraryMatchCount)}
}

// Add 合入单个库的计数
//
// 首次出现的库直接写入计数，已存在的库逐次加一，计数只增不减。
func (r *Report) Add(id domain.LibraryIdentity, count int) {
	if count <= 0 {
		return
	}
	if _, ok := r.Counts[id]; !ok {
		r.Counts[id] = count
		return
	}
	for i := 0; i < count; i++ {
		r.Counts[id]++
	}
}

// AddCounts 合入一个 APK（或一批）的计数
func (r *Report) AddCounts(counts domain.LibraryMatchCount) {
	for id, count := range counts {
		r.Add(id, count)
	}
}

// AddFailure 记录失败的 APK
func (r *Report) AddFailure(pkg, reason string) {
	r.Failures = append(r.Failures, Failure{Package: pkg, Reason: reason})
}

// AddResult 合入单个任务结果，每个任务计为一个已处理的 APK
func (r *Report) AddResult(result *worker.TaskResult) {
	r.TotalPackages++
	if result.Failed() {
		r.AddFailure(result.Package.Name, result.Err.Error())
		return
	}
	r.AddCounts(result.Counts)
}

// Merge 合入另一份汇总，跨批次累加，不去重
func (r *Report) Merge(other *Report) {
	r.AddCounts(other.Counts)
	r.TotalPackages += other.TotalPackages
	r.Failures = append(r.Failures, other.Failures...)
}

// Entries 按库名、版本排序的计数
func (r *Report) Entries() []domain.LibraryCountEntry {
	return r.Counts.Entries()
}

// SortedFailures 按包名排序的失败列表
func (r *Report) SortedFailures() []Failure {
	out := append([]Failure(nil), r.Failures...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Package < out[j].Package
	})
	return out
}

// FromResults 在 Worker 池汇合后单线程折叠所有任务结果
func FromResults(results []worker.TaskResult) *Report {
	report := New()
	for i := range results {
		report.AddResult(&results[i])
	}
	return report
}
