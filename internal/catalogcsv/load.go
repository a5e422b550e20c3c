package catalogcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
)

// 旧版工具（pandas 导出）的表头。
var legacyHeaders = map[string]string{
	"genre":         ColTags,
	"title":         ColTitle,
	"runtime (min)": ColRuntime,
	"imdb score":    ColScore,
	"votes":         ColVotes,
	"imdb id":       ColID,
	"poster url":    ColPoster,
}

// RowError 指出表格中无法解析的行（行号从 1 开始，含表头）。
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("第 %d 行：%v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Load 读取已持久化的目录；文件不存在返回空目录。
// 读到的记录 Origin=OriginLoaded。
func Load(path string) (*domain.Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewCatalog(), nil
		}
		return nil, err
	}
	return Decode(b)
}

// Decode 按表头解析 CSV；列集合可以是完整列、缩减列或旧版表头。
// 文件内重复的 ID 按合并规则处理：并 tags，其它字段先写者胜。
func Decode(b []byte) (*domain.Catalog, error) {
	c := domain.NewCatalog()
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(b)) == 0 {
		return c, nil
	}

	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败：%w", err)
	}
	idx, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// *csv.ParseError 自带行号。
			return nil, fmt.Errorf("解析目录表失败：%w", err)
		}
		line, _ := r.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		mr, err := decodeRow(rec, idx)
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		if existing, ok := c.Get(mr.ID); ok {
			existing.Tags.Union(mr.Tags)
			continue
		}
		if err := c.Put(mr); err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
	}
	return c, nil
}

func mapHeader(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			// pandas 默认导出的行索引列。
			continue
		}
		if legacy, ok := legacyHeaders[key]; ok {
			key = legacy
		}
		if _, dup := idx[key]; dup {
			return nil, fmt.Errorf("表头重复：%q", h)
		}
		idx[key] = i
	}
	if _, ok := idx[ColID]; !ok {
		return nil, fmt.Errorf("表头缺少 %s 列", ColID)
	}
	if _, ok := idx[ColTags]; !ok {
		return nil, fmt.Errorf("表头缺少 %s 列", ColTags)
	}
	return idx, nil
}

func decodeRow(rec []string, idx map[string]int) (domain.MovieRecord, error) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	// 数值列：pandas 把缺失值写成 nan/None。文本列（标题、海报地址）原样保留。
	num := func(col string) string {
		v := get(col)
		if strings.EqualFold(v, "nan") || strings.EqualFold(v, "none") {
			return ""
		}
		return v
	}

	id, ok := domain.ParseID(get(ColID))
	if !ok {
		return domain.MovieRecord{}, fmt.Errorf("非法 %s：%q", ColID, get(ColID))
	}
	tags, err := ParseTags(get(ColTags))
	if err != nil {
		return domain.MovieRecord{}, err
	}
	if tags.Len() == 0 {
		return domain.MovieRecord{}, fmt.Errorf("%s 的 tags 为空", id)
	}

	mr := domain.MovieRecord{ID: id, Tags: tags, Origin: domain.OriginLoaded}
	if v := get(ColTitle); v != "" {
		mr.Title = domain.Some(v)
	}
	if mr.RuntimeMinutes, err = parseInt(num(ColRuntime), ColRuntime); err != nil {
		return domain.MovieRecord{}, err
	}
	if mr.VoteCount, err = parseInt(num(ColVotes), ColVotes); err != nil {
		return domain.MovieRecord{}, err
	}
	if v := num(ColScore); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || f < 0 || f > 10 {
			return domain.MovieRecord{}, fmt.Errorf("非法 %s：%q", ColScore, v)
		}
		mr.Score = domain.Some(f)
	}
	if v := get(ColPoster); v != "" {
		mr.PosterURI = domain.Some(v)
	}
	if mr.State, err = domain.ParseResourceState(get(ColResources)); err != nil {
		return domain.MovieRecord{}, err
	}
	return mr, nil
}

// parseInt 接受整数，也接受 pandas 写出的 "100.0"。
func parseInt(v, col string) (domain.Opt[int], error) {
	if v == "" {
		return domain.None[int](), nil
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return domain.Some(n), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return domain.None[int](), fmt.Errorf("非法 %s：%q", col, v)
	}
	return domain.Some(int(f)), nil
}

// ParseTags 解析 "[2, 5]"；也接受不带方括号的 "2,5" 与单个代码。
func ParseTags(s string) (domain.TagSet, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	out := domain.NewTagSet()
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("非法 tag：%q", p)
		}
		out.Add(n)
	}
	return out, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
