package testutil

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// DEXBytes 生成带合法 magic 的假 DEX 内容，seed 用于区分不同文件
func DEXBytes(seed int) []byte {
	data := make([]byte, 128)
	copy(data, "dex\n035\x00")
	data[8] = byte(seed)
	return data
}

// WriteZip 写出 zip 文件，entries 为 条目名 -> 内容
func WriteZip(tb testing.TB, path string, entries map[string][]byte) {
	tb.Helper()
	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0755))

	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, data := range entries {
		entry, err := w.Create(name)
		require.NoError(tb, err)
		_, err = entry.Write(data)
		require.NoError(tb, err)
	}
	require.NoError(tb, w.Close())
}

// WriteAPK 写出包含 dexCount 个 classesN.dex 的 APK
func WriteAPK(tb testing.TB, path string, dexCount int) {
	tb.Helper()
	entries := map[string][]byte{
		"AndroidManifest.xml": []byte("<manifest/>"),
		"res/raw/data.bin":    []byte("payload"),
	}
	for i := 1; i <= dexCount; i++ {
		name := "classes.dex"
		if i > 1 {
			name = fmt.Sprintf("classes%d.dex", i)
		}
		entries[name] = DEXBytes(i)
	}
	WriteZip(tb, path, entries)
}

// FakeRunner 模拟 dex2jar：在工作目录写出 <输入名>-dex2jar.jar
type FakeRunner struct {
	mu    sync.Mutex
	calls []string

	// Classes 输入名（不含扩展名）-> jar 中的 class 条目
	Classes map[string]map[string][]byte
	// Fail 输入名（不含扩展名）-> 返回的错误
	Fail map[string]error
	// SkipOutput 为 true 时模拟工具成功退出但没有产物
	SkipOutput bool
}

// Run 实现 extractor.Runner
func (f *FakeRunner) Run(ctx context.Context, input, workDir string) error {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if err, ok := f.Fail[base]; ok {
		return err
	}
	if f.SkipOutput {
		return nil
	}

	jarPath := filepath.Join(workDir, base+"-dex2jar.jar")
	out, err := os.Create(jarPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for name, data := range f.Classes[base] {
		entry, err := w.Create(name)
		if err != nil {
			return err
		}
		if _, err := entry.Write(data); err != nil {
			return err
		}
	}
	return w.Close()
}

// Calls 返回所有调用的输入路径
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount 调用次数
func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
