package domain

import (
	"fmt"
	"sort"
)

// LibraryIdentity 已知库标识（名称 + 版本）
type LibraryIdentity struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String 返回 "name version" 形式
func (id LibraryIdentity) String() string {
	return fmt.Sprintf("%s %s", id.Name, id.Version)
}

// Less 按名称、版本排序
func (id LibraryIdentity) Less(other LibraryIdentity) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	return id.Version < other.Version
}

// LibraryCountEntry 单个库的计数（用于序列化）
type LibraryCountEntry struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Count   int    `json:"count" yaml:"count"`
}

// Identity 返回条目对应的库标识
func (e LibraryCountEntry) Identity() LibraryIdentity {
	return LibraryIdentity{Name: e.Name, Version: e.Version}
}

// LibraryMatchCount 库标识 -> 出现次数
// 计数只增不减
type LibraryMatchCount map[LibraryIdentity]int

// NewLibraryMatchCount 从条目列表构建
func NewLibraryMatchCount(entries []LibraryCountEntry) LibraryMatchCount {
	counts := make(LibraryMatchCount, len(entries))
	for _, e := range entries {
		if e.Count <= 0 {
			continue
		}
		counts[e.Identity()] += e.Count
	}
	return counts
}

// Entries 返回按库名、版本排序的条目
func (m LibraryMatchCount) Entries() []LibraryCountEntry {
	entries := make([]LibraryCountEntry, 0, len(m))
	for id, count := range m {
		entries = append(entries, LibraryCountEntry{Name: id.Name, Version: id.Version, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity().Less(entries[j].Identity())
	})
	return entries
}

// Total 所有计数之和
func (m LibraryMatchCount) Total() int {
	total := 0
	for _, count := range m {
		total += count
	}
	return total
}
