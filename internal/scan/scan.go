package scan

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
)

// Result 是一次产物扫描的结果。
type Result struct {
	// Artifacts：每个出现过产物的 ID 及其现状。
	Artifacts map[domain.ID]domain.ArtifactState
	// Residues：中断运行留下的中间文件（绝对路径，已排序）。
	Residues []string
}

// Orphans 返回只剩单个产物的 ID（已排序）。
func (r Result) Orphans() []domain.ID {
	out := make([]domain.ID, 0)
	for id, st := range r.Artifacts {
		if st.Orphan() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ScanArtifacts 扫描 audios/ 与 posters/（以及数据目录顶层的临时文件）。
//
// 规则：
// - 只看文件名，只做 ReadDir，不读内容
// - <id>.opus / <id>.jpg 是产物；其余以 <id>. 开头的音频目录文件是下载器中间文件
// - .*.tmp-*、*.part、*.ytdl 是中间文件
// - 其它文件一律忽略（不属于本工具）
func ScanArtifacts(l domain.Layout) (Result, error) {
	res := Result{Artifacts: map[domain.ID]domain.ArtifactState{}}

	err := eachFile(l.AudioDir(), func(path, name string) {
		if isResidue(name) {
			res.Residues = append(res.Residues, path)
			return
		}
		stem, ext := splitName(name)
		id, ok := domain.ParseID(stem)
		if !ok {
			// tt1.temp.opus / tt1.webm 一类：ID 前缀 + 非最终扩展名。
			if head, _, found := strings.Cut(name, "."); found {
				if _, ok := domain.ParseID(head); ok {
					res.Residues = append(res.Residues, path)
				}
			}
			return
		}
		if ext == domain.AudioExt {
			st := res.Artifacts[id]
			st.HasAudio = true
			res.Artifacts[id] = st
			return
		}
		res.Residues = append(res.Residues, path)
	})
	if err != nil {
		return Result{}, err
	}

	err = eachFile(l.PosterDir(), func(path, name string) {
		if isResidue(name) {
			res.Residues = append(res.Residues, path)
			return
		}
		stem, ext := splitName(name)
		id, ok := domain.ParseID(stem)
		if !ok || ext != domain.PosterExt {
			return
		}
		st := res.Artifacts[id]
		st.HasPoster = true
		res.Artifacts[id] = st
	})
	if err != nil {
		return Result{}, err
	}

	err = eachFile(l.DataDir, func(path, name string) {
		if isTempFile(name) {
			res.Residues = append(res.Residues, path)
		}
	})
	if err != nil {
		return Result{}, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Strings(res.Residues)
	return res, nil
}

// Reconciled 是一次对账的结果。
type Reconciled struct {
	OrphansRemoved  []domain.ID
	ResiduesRemoved int
}

// Reconcile 删除中间文件与孤儿产物，使每个 ID 要么两个产物都在、要么都不在。
// 单个文件删除失败不会中断对账，错误合并后返回。
func Reconcile(l domain.Layout) (Reconciled, error) {
	res, err := ScanArtifacts(l)
	if err != nil {
		return Reconciled{}, err
	}

	var out Reconciled
	var errs []error
	for _, p := range res.Residues {
		if err := fsx.RemoveIfExists(p); err != nil {
			errs = append(errs, err)
			continue
		}
		out.ResiduesRemoved++
	}
	for _, id := range res.Orphans() {
		st := res.Artifacts[id]
		path := l.AudioPath(id)
		if st.HasPoster {
			path = l.PosterPath(id)
		}
		if err := fsx.RemoveIfExists(path); err != nil {
			errs = append(errs, err)
			continue
		}
		out.OrphansRemoved = append(out.OrphansRemoved, id)
	}
	return out, errors.Join(errs...)
}

func eachFile(dir string, fn func(path, name string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn(filepath.Join(dir, e.Name()), e.Name())
	}
	return nil
}

// splitName 区分大小写：产物文件名与 Layout 给出的路径逐字节一致。
func splitName(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

func isResidue(name string) bool {
	if isTempFile(name) {
		return true
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".part") || strings.HasSuffix(lower, ".ytdl")
}
