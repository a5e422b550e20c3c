package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/genrecat/internal/infra/fsx"
	"github.com/John-Robertt/genrecat/internal/infra/httpx"
	"github.com/John-Robertt/genrecat/internal/infra/imgx"
	providerx "github.com/John-Robertt/genrecat/internal/provider"
)

// DefaultMaxBytes 是单张海报的大小上限。
const DefaultMaxBytes = 20 << 20

// Fetcher 负责海报的探测（HEAD）与下载（GET）。
//
// 约束：
// - Probe 只看状态码，不读 body
// - Fetch 写入前统一转为 JPEG，并以临时文件 + rename 原子落盘
// - 不做重试（client 由 httpx.NewImageClient 构造）
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// Probe 发起 HEAD 请求；2xx 视为可达。
func (f *Fetcher) Probe(ctx context.Context, locator string) error {
	u, err := checkLocator(locator)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &providerx.HTTPStatusError{Method: http.MethodHead, URL: u, StatusCode: resp.StatusCode}
	}
	return nil
}

// Fetch 下载海报并写入 dst（posters/<id>.jpg）。
func (f *Fetcher) Fetch(ctx context.Context, locator, dst string) error {
	u, err := checkLocator(locator)
	if err != nil {
		return err
	}
	dst = strings.TrimSpace(dst)
	if dst == "" {
		return errors.New("目标路径不能为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "image/jpeg,image/png;q=0.9,image/*;q=0.8")
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &providerx.HTTPStatusError{Method: http.MethodGet, URL: u, StatusCode: resp.StatusCode}
	}

	max := f.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}
	b, err := httpx.ReadLimited(resp.Body, max)
	if err != nil {
		return err
	}
	jpg, err := imgx.EnsureJPEG(b)
	if err != nil {
		return fmt.Errorf("海报内容无效：%w", err)
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(dst), filepath.Base(dst), jpg)
}

func checkLocator(locator string) (string, error) {
	u := strings.TrimSpace(locator)
	if u == "" {
		return "", errors.New("locator 不能为空")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", fmt.Errorf("不支持的海报地址：%q", u)
	}
	return u, nil
}
