package detector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/snapshot"
	"github.com/sirupsen/logrus"
)

// Match 单个库版本的命中情况
type Match struct {
	Identity domain.LibraryIdentity `json:"identity"`
	Matched  int                    `json:"matched"`
	Total    int                    `json:"total"`
}

// Score 命中比例
func (m Match) Score() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Matched) / float64(m.Total)
}

// better 同一库的多个候选版本中选出更可信的一个
func (m Match) better(other Match) bool {
	if m.Score() != other.Score() {
		return m.Score() > other.Score()
	}
	if m.Total != other.Total {
		return m.Total > other.Total
	}
	return m.Identity.Version > other.Identity.Version
}

// Detector 按类指纹比对白名单
type Detector struct {
	snap      *snapshot.Snapshot
	threshold float64
	logger    *logrus.Logger
}

// NewDetector 创建检测器，snap 在整个运行期间只读共享
func NewDetector(snap *snapshot.Snapshot, threshold float64, logger *logrus.Logger) *Detector {
	return &Detector{
		snap:      snap,
		threshold: threshold,
		logger:    logger,
	}
}

// Detect 检测产物中包含的库
//
// 每个库名最多计一个版本，每个命中的库计 1 次。
func (d *Detector) Detect(ctx context.Context, artifacts []string) (domain.LibraryMatchCount, []Match, error) {
	hashes := make(map[string]struct{})
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !strings.HasSuffix(artifact, ".jar") {
			// DEX 文件没有 class 条目，无法比对
			d.logger.WithField("artifact", filepath.Base(artifact)).Debug("Skipping non-jar artifact")
			continue
		}
		if err := snapshot.HashJar(artifact, hashes); err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", filepath.Base(artifact), err)
		}
	}

	best := make(map[string]Match)
	for version, matched := range d.snap.Match(hashes) {
		m := Match{
			Identity: version.Identity,
			Matched:  matched,
			Total:    version.ClassCount(),
		}
		if m.Score() < d.threshold {
			continue
		}
		if cur, ok := best[m.Identity.Name]; !ok || m.better(cur) {
			best[m.Identity.Name] = m
		}
	}

	counts := make(domain.LibraryMatchCount, len(best))
	matches := make([]Match, 0, len(best))
	for _, m := range best {
		counts[m.Identity] = 1
		matches = append(matches, m)
	}
	sortMatches(matches)

	return counts, matches, nil
}
