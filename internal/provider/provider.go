package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/genrecat/internal/domain"
)

// Page 把“站点变化”限制在 provider 包内部；核心流程只依赖统一接口与稳定的 Observation。
//
// 约束：
// - Fetch 不做缓存、不做限速（重试由 http 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - pageURL 是实际抓取的列表页（用于日志与 report 追溯）
type Page interface {
	Name() string
	Fetch(ctx context.Context, g domain.Genre, expand int, c *http.Client) (html []byte, pageURL string, err error)
	Parse(g domain.Genre, html []byte, pageURL string) ([]domain.Observation, error)
}

// Session 是一次运行内的观测会话，生命周期由调用方显式管理（Open/Close）。
//
// 约束：
// - 同一会话在整个运行中复用，不作为全局状态存在
// - Close 幂等；关闭后再 Observe 返回 ErrSessionClosed
type Session interface {
	Observe(ctx context.Context, g domain.Genre, expand int) ([]domain.Observation, error)
	Close() error
}
