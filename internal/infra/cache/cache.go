package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
)

// Store 提供 <data_dir>/cache/ 下的文件缓存读写。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Dir      string // <data_dir>/cache
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(dir string, readOnly bool) Store {
	return Store{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		ReadOnly: readOnly,
	}
}

// TrailerEntry 是一条已解析的预告片定位（只缓存成功结果）。
type TrailerEntry struct {
	ID         domain.ID `json:"id"`
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// TrailerPath 返回预告片缓存文件路径：<dir>/trailers/<id>.json。
func (s Store) TrailerPath(id domain.ID) (string, error) {
	if _, ok := domain.ParseID(string(id)); !ok {
		return "", fmt.Errorf("非法 id：%q", id)
	}
	return filepath.Join(s.Dir, "trailers", string(id)+".json"), nil
}

// ReadTrailer 读取缓存；未命中返回 ok=false。内容损坏视为错误。
func (s Store) ReadTrailer(id domain.ID) (TrailerEntry, bool, error) {
	path, err := s.TrailerPath(id)
	if err != nil {
		return TrailerEntry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TrailerEntry{}, false, nil
		}
		return TrailerEntry{}, false, err
	}
	var e TrailerEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return TrailerEntry{}, false, fmt.Errorf("缓存损坏：%q：%w", path, err)
	}
	if e.ID != id || strings.TrimSpace(e.URL) == "" {
		return TrailerEntry{}, false, fmt.Errorf("缓存内容与 id 不匹配：%q", path)
	}
	return e, true, nil
}

func (s Store) WriteTrailer(e TrailerEntry) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.TrailerPath(e.ID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("url 不能为空")
	}
	if e.ResolvedAt.IsZero() {
		e.ResolvedAt = time.Now()
	}
	e.ResolvedAt = e.ResolvedAt.UTC()
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), append(b, '\n'))
}

// TrailerResolver 与 acquire.TrailerResolver 同形。
type TrailerResolver interface {
	ResolveTrailer(ctx context.Context, id domain.ID) (string, error)
}

// Resolver 在 Next 前面加一层文件缓存。
//
// - 命中：不发起网络请求
// - 未命中：调用 Next；成功结果写回缓存（ReadOnly 时跳过）
// - 缓存读写失败不影响解析结果，只通过 OnCacheError 报告
type Resolver struct {
	Store        Store
	Next         TrailerResolver
	OnCacheError func(id domain.ID, err error)
}

func (r *Resolver) ResolveTrailer(ctx context.Context, id domain.ID) (string, error) {
	e, ok, err := r.Store.ReadTrailer(id)
	if err != nil {
		r.report(id, err)
	} else if ok {
		return e.URL, nil
	}

	if r.Next == nil {
		return "", errors.New("cache: 未配置下游 resolver")
	}
	u, err := r.Next.ResolveTrailer(ctx, id)
	if err != nil {
		return "", err
	}
	if !r.Store.ReadOnly {
		if werr := r.Store.WriteTrailer(TrailerEntry{ID: id, URL: u}); werr != nil {
			r.report(id, werr)
		}
	}
	return u, nil
}

func (r *Resolver) report(id domain.ID, err error) {
	if r.OnCacheError != nil {
		r.OnCacheError(id, err)
	}
}
