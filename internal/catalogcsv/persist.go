package catalogcsv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
)

// 固定列顺序。
const (
	ColID        = "identifier"
	ColTitle     = "title"
	ColRuntime   = "runtime_minutes"
	ColScore     = "score"
	ColVotes     = "vote_count"
	ColTags      = "tags"
	ColPoster    = "poster_uri"
	ColResources = "resource_state"
)

var Columns = []string{ColID, ColTitle, ColRuntime, ColScore, ColVotes, ColTags, ColPoster, ColResources}

// Options 控制持久化行为。
type Options struct {
	// Acquire=false 表示本次运行没有启用资源获取：
	// 所有记录都保留，resource_state 列省略，全空的列也省略。
	Acquire bool
}

// Keep 判断一条记录是否写入表格。
//
// 启用资源获取时，只保留已提交资源的记录和上一次表格中已有的行；
// 本次新观测、最终没有提交的记录不写入。未启用时全部保留。
func Keep(r *domain.MovieRecord, opts Options) bool {
	if r == nil {
		return false
	}
	if !opts.Acquire {
		return true
	}
	return r.State == domain.StateCommitted || r.Origin == domain.OriginLoaded
}

// Encode 把目录编码为 CSV（不写盘）。返回写出的行数（不含表头）。
func Encode(c *domain.Catalog, opts Options) ([]byte, int, error) {
	if c == nil {
		return nil, 0, nil
	}
	rows := make([]*domain.MovieRecord, 0, c.Len())
	for _, r := range c.Records() {
		if Keep(r, opts) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	cols := selectColumns(rows, opts)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, 0, err
	}
	rec := make([]string, len(cols))
	for _, r := range rows {
		for i, col := range cols {
			rec[i] = cell(r, col)
		}
		if err := w.Write(rec); err != nil {
			return nil, 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(rows), nil
}

// Persist 把目录全量重写到 path（临时文件 + rename）。
// 过滤后没有任何行时不写文件，保留旧文件不动，返回 rows=0。
func Persist(path string, c *domain.Catalog, opts Options) (int, error) {
	b, n, err := Encode(c, opts)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	path = filepath.Clean(path)
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b); err != nil {
		return 0, fmt.Errorf("写入目录表失败：%w", err)
	}
	return n, nil
}

func selectColumns(rows []*domain.MovieRecord, opts Options) []string {
	if opts.Acquire {
		return append([]string(nil), Columns...)
	}
	out := make([]string, 0, len(Columns))
	for _, col := range Columns {
		switch col {
		case ColResources:
			continue
		case ColID, ColTags:
			out = append(out, col)
			continue
		}
		for _, r := range rows {
			if cell(r, col) != "" {
				out = append(out, col)
				break
			}
		}
	}
	return out
}

func cell(r *domain.MovieRecord, col string) string {
	switch col {
	case ColID:
		return string(r.ID)
	case ColTitle:
		return r.Title.Or("")
	case ColRuntime:
		if v, ok := r.RuntimeMinutes.Get(); ok {
			return strconv.Itoa(v)
		}
	case ColScore:
		if v, ok := r.Score.Get(); ok {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	case ColVotes:
		if v, ok := r.VoteCount.Get(); ok {
			return strconv.Itoa(v)
		}
	case ColTags:
		return FormatTags(r.Tags)
	case ColPoster:
		return r.PosterURI.Or("")
	case ColResources:
		if r.State == "" {
			return string(domain.StateNotAttempted)
		}
		return string(r.State)
	}
	return ""
}

// FormatTags 序列化为 "[2, 5]"（升序）。
func FormatTags(s domain.TagSet) string {
	codes := s.Sorted()
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, strconv.Itoa(c))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
