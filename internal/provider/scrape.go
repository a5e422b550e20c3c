package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
)

// ErrSessionClosed 表示在已关闭的会话上继续观测。
var ErrSessionClosed = errors.New("观测会话已关闭")

const (
	StageFetch = "fetch"
	StageParse = "parse"
)

// FetchParse 抓取并解析一个类别的列表页。
//
// 返回值：
// - obs：解析得到的观测（Tag 已设置为 g.Code，Position 从 1 开始）
// - pageURL：列表页 URL（也是来源标记）
//
// 失败统一包装为 *Error，Stage 区分 fetch / parse。
func FetchParse(ctx context.Context, p Page, g domain.Genre, expand int, c *http.Client) (obs []domain.Observation, pageURL string, err error) {
	if p == nil {
		return nil, "", fmt.Errorf("page 不能为空")
	}
	if strings.TrimSpace(g.Name) == "" {
		return nil, "", fmt.Errorf("genre 名称不能为空（code=%d）", g.Code)
	}
	if expand < 0 {
		return nil, "", fmt.Errorf("expand 不能为负数：%d", expand)
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))

	h, pageURL, err := p.Fetch(ctx, g, expand, c)
	if err != nil {
		return nil, pageURL, &Error{Provider: name, Stage: StageFetch, Err: err}
	}

	obs, err = p.Parse(g, h, pageURL)
	if err != nil {
		return nil, pageURL, &Error{Provider: name, Stage: StageParse, Err: err}
	}
	for i := range obs {
		obs[i].Tag = g.Code
		if obs[i].Position == 0 {
			obs[i].Position = i + 1
		}
	}
	return obs, pageURL, nil
}

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageOf 返回 err 链上第一个 *Error 的阶段；不是 provider 错误时返回空串。
func StageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
