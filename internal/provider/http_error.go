package provider

import (
	"errors"
	"fmt"
	"strings"
)

// HTTPStatusError 表示上游返回了非预期的 HTTP 状态码。
// Fetch / Probe / Resolve 都可以返回该错误，让上层生成更可操作的 error_msg。
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	head := fmt.Sprintf("HTTP %d", e.StatusCode)
	if m := strings.TrimSpace(e.Method); m != "" {
		head = m + " " + head
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return head
	}
	return fmt.Sprintf("%s location=%s", head, loc)
}

// StatusCode 返回 err 链上的 HTTP 状态码；没有时返回 0。
func StatusCode(err error) int {
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// BlockedError 表示请求被站点引导到了“验证/拦截”页面（通常意味着需要浏览器执行 JS 或人工验证）。
// 不尝试绕过，直接视为 fetch_failed，由上层提示用户配置代理。
type BlockedError struct {
	URL    string
	Reason string // 例如 "waf-challenge"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}
