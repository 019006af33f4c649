package discovery

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdir(t *testing.T, parts ...string) string {
	path := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(path, 0755))
	return path
}

// TestFindExtractedFolders_DirectMode 测试直接模式：只返回根目录下的文件夹
func TestFindExtractedFolders_DirectMode(t *testing.T) {
	root := t.TempDir()
	direct := mkdir(t, root, domain.ExtractedAPKsDirName)
	// 兄弟目录里的也不应被扫描
	mkdir(t, root, "batch1", domain.ExtractedAPKsDirName)

	folders, err := FindExtractedFolders(root)
	require.NoError(t, err)
	assert.Equal(t, []string{direct}, folders)
}

// TestFindExtractedFolders_BatchMode 测试批量模式
func TestFindExtractedFolders_BatchMode(t *testing.T) {
	root := t.TempDir()
	a := mkdir(t, root, "batchA", domain.ExtractedAPKsDirName)
	b := mkdir(t, root, "batchB", domain.ExtractedAPKsDirName)
	mkdir(t, root, "unrelated")
	mkdir(t, root, "deep", "nested", domain.ExtractedAPKsDirName)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	folders, err := FindExtractedFolders(root)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, folders)
}

// TestFindExtractedFolders_Empty 测试无匹配
func TestFindExtractedFolders_Empty(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "other")

	folders, err := FindExtractedFolders(root)
	require.NoError(t, err)
	assert.Empty(t, folders)
}

// TestFindExtractedFolders_FileNamedLikeFolder 测试同名文件不算
func TestFindExtractedFolders_FileNamedLikeFolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, domain.ExtractedAPKsDirName), []byte("x"), 0644))

	folders, err := FindExtractedFolders(root)
	require.NoError(t, err)
	assert.Empty(t, folders)
}

// TestFindExtractedFolders_MissingRoot 测试根目录不存在
func TestFindExtractedFolders_MissingRoot(t *testing.T) {
	_, err := FindExtractedFolders(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// TestListPackages 测试 APK 列表
func TestListPackages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.apk", "a.apk", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	mkdir(t, dir, "sub.apk")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	packages, err := ListPackages(dir, logger)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "a", packages[0].Name)
	assert.Equal(t, "b", packages[1].Name)
	assert.True(t, filepath.IsAbs(packages[0].Path))
}

// TestCountEntries 测试条目计数
func TestCountEntries(t *testing.T) {
	dir := t.TempDir()
	mkdir(t, dir, "app1")
	mkdir(t, dir, "app2")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644))

	n, err := CountEntries(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
