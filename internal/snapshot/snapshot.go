package snapshot

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/sirupsen/logrus"
)

// LibraryVersion 白名单中某个库版本的类指纹
type LibraryVersion struct {
	Identity domain.LibraryIdentity
	Hashes   map[string]struct{} // class 内容 SHA-256
}

// ClassCount 类数量
func (v *LibraryVersion) ClassCount() int {
	return len(v.Hashes)
}

// Snapshot 白名单的只读快照，Build 之后不再修改，可并发读取
type Snapshot struct {
	versions []*LibraryVersion
	byHash   map[string][]int // 类指纹 -> versions 下标
}

// Build 从白名单目录构建快照
//
// 目录结构为 <whitelist>/<库名>/<版本>/，版本目录下的 .jar 和 .class 文件都会被读取。
func Build(whitelistDir string, logger *logrus.Logger) (*Snapshot, error) {
	libDirs, err := os.ReadDir(whitelistDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist directory: %w", err)
	}

	snap := &Snapshot{byHash: make(map[string][]int)}

	for _, libDir := range libDirs {
		if !libDir.IsDir() {
			continue
		}
		versionDirs, err := os.ReadDir(filepath.Join(whitelistDir, libDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read library %s: %w", libDir.Name(), err)
		}

		for _, versionDir := range versionDirs {
			if !versionDir.IsDir() {
				continue
			}
			id := domain.LibraryIdentity{Name: libDir.Name(), Version: versionDir.Name()}
			hashes, err := fingerprintDir(filepath.Join(whitelistDir, libDir.Name(), versionDir.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to fingerprint %s: %w", id, err)
			}
			if len(hashes) == 0 {
				logger.WithField("library", id.String()).Warn("Library version has no classes, skipping")
				continue
			}
			snap.add(&LibraryVersion{Identity: id, Hashes: hashes})
		}
	}

	if len(snap.versions) == 0 {
		return nil, fmt.Errorf("whitelist %s contains no library versions", whitelistDir)
	}

	logger.WithFields(logrus.Fields{
		"versions": len(snap.versions),
		"classes":  len(snap.byHash),
	}).Info("Library snapshot built")

	return snap, nil
}

// New 直接由库版本构建快照
func New(versions ...*LibraryVersion) *Snapshot {
	snap := &Snapshot{byHash: make(map[string][]int)}
	for _, v := range versions {
		snap.add(v)
	}
	return snap
}

func (s *Snapshot) add(v *LibraryVersion) {
	idx := len(s.versions)
	s.versions = append(s.versions, v)
	for hash := range v.Hashes {
		s.byHash[hash] = append(s.byHash[hash], idx)
	}
}

// Len 库版本数量
func (s *Snapshot) Len() int {
	return len(s.versions)
}

// Versions 按库名、版本排序返回所有库版本
func (s *Snapshot) Versions() []*LibraryVersion {
	out := append([]*LibraryVersion(nil), s.versions...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.Less(out[j].Identity)
	})
	return out
}

// Match 统计每个库版本命中的类数量
func (s *Snapshot) Match(hashes map[string]struct{}) map[*LibraryVersion]int {
	hits := make(map[*LibraryVersion]int)
	for hash := range hashes {
		for _, idx := range s.byHash[hash] {
			hits[s.versions[idx]]++
		}
	}
	return hits
}

// HashBytes 计算类指纹
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJar 计算 jar 中所有 .class 的指纹
func HashJar(path string, into map[string]struct{}) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if !strings.HasSuffix(file.Name, ".class") {
			continue
		}
		hash, err := hashZipEntry(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Name, err)
		}
		into[hash] = struct{}{}
	}
	return nil
}

func hashZipEntry(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fingerprintDir 读取版本目录下的所有 jar 和 class
func fingerprintDir(dir string) (map[string]struct{}, error) {
	hashes := make(map[string]struct{})

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(d.Name(), ".jar"):
			return HashJar(path, hashes)
		case strings.HasSuffix(d.Name(), ".class"):
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			hashes[HashBytes(data)] = struct{}{}
		}
		return nil
	})

	return hashes, err
}
