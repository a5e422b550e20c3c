package imdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/imdbid"
	"github.com/John-Robertt/genrecat/internal/infra/httpx"
	providerx "github.com/John-Robertt/genrecat/internal/provider"
)

const (
	DefaultBaseURL     = "https://www.imdb.com"
	DefaultReleaseFrom = "2000-01-01"
	DefaultReleaseTo   = "2025-12-31"
	DefaultPageSize    = 50

	// 列表页 HTML 的上限；正常页面远小于此值。
	maxPageBytes = 16 << 20
)

// Source 实现 IMDb 高级搜索列表页的抓取与 HTML 解析。
//
// 约束：
// - 一个类别一次请求：count=PageSize*(expand+1)，等价于在页面上点击 expand 次 “50 more”
// - Fetch/Parse 不做缓存/限速（由上层统一控制）
// - Parse 必须是纯函数（依赖输入 html + pageURL）
type Source struct {
	BaseURL     string
	ReleaseFrom string // YYYY-MM-DD
	ReleaseTo   string // YYYY-MM-DD
	PageSize    int
}

func (Source) Name() string { return "imdb" }

func (s Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (s Source) pageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

// Limit 返回一个类别最多产出的观测数。
func (s Source) Limit(expand int) int {
	if expand < 0 {
		expand = 0
	}
	return s.pageSize() * (expand + 1)
}

// SearchURL 构造类别列表页 URL。
func (s Source) SearchURL(g domain.Genre, expand int) string {
	from := strings.TrimSpace(s.ReleaseFrom)
	if from == "" {
		from = DefaultReleaseFrom
	}
	to := strings.TrimSpace(s.ReleaseTo)
	if to == "" {
		to = DefaultReleaseTo
	}
	q := url.Values{}
	q.Set("title_type", "feature")
	q.Set("genres", strings.TrimSpace(g.Name))
	q.Set("release_date", from+","+to)
	q.Set("count", strconv.Itoa(s.Limit(expand)))
	return s.baseURL() + "/search/title/?" + q.Encode()
}

// Fetch 抓取类别列表页。
func (s Source) Fetch(ctx context.Context, g domain.Genre, expand int, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if strings.TrimSpace(g.Name) == "" {
		return nil, "", errors.New("genre 名称不能为空")
	}
	pageURL := s.SearchURL(g, expand)
	b, err := fetchURL(ctx, c, pageURL)
	return b, pageURL, err
}

// Parse 把列表页 HTML 解析为观测序列（按页面顺序，Position 从 1 开始）。
//
// 页面结构只依赖稳定的 ipc-* 类名；单条记录缺字段不算错误（由字段解析器置为缺失），
// 但整页找不到结果列表视为解析失败（疑似验证页/非列表页）。
func (s Source) Parse(g domain.Genre, html []byte, pageURL string) ([]domain.Observation, error) {
	if len(html) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	items := doc.Find("li.ipc-metadata-list-summary-item")
	if items.Length() == 0 && doc.Find("ul.ipc-metadata-list").Length() == 0 {
		return nil, errors.New("未找到结果列表（疑似返回了验证页/非列表页内容）")
	}

	out := make([]domain.Observation, 0, items.Length())
	items.Each(func(i int, li *goquery.Selection) {
		out = append(out, parseItem(li, g, i+1, pageURL))
	})
	return out, nil
}

var runtimeTextRE = regexp.MustCompile(`^\s*(?:\d+h)?\s*(?:\d+m)?\s*$`)

func parseItem(li *goquery.Selection, g domain.Genre, pos int, pageURL string) domain.Observation {
	o := domain.Observation{
		Tag:       g.Code,
		Position:  pos,
		TitleLine: normSpace(li.Find("h3.ipc-title__text").First().Text()),
	}

	// 元数据行：年份、时长、分级；只认形如 “2h 32m” 的那一项为时长。
	li.Find(".dli-title-metadata-item, .sc-title-metadata-item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := normSpace(s.Text())
		if t != "" && runtimeTextRE.MatchString(t) {
			o.RuntimeText = t
			return false
		}
		return true
	})

	o.ScoreText = normSpace(li.Find(".ipc-rating-star--rating").First().Text())
	o.VotesText = normSpace(li.Find(".ipc-rating-star--voteCount").First().Text())

	if href, ok := li.Find(`a[href*="/title/"]`).First().Attr("href"); ok {
		o.Href = resolveURL(pageURL, href)
		if id, err := imdbid.Extract(o.Href); err == nil {
			o.ID = id
		}
	}

	img := li.Find("div.ipc-media img").First()
	if img.Length() == 0 {
		img = li.Find("img.ipc-image").First()
	}
	if src, ok := img.Attr("src"); ok {
		o.PosterURL = resolveURL(pageURL, src)
	}
	return o
}

// Open 打开一个观测会话。会话持有独立的 cookie jar，运行结束时由调用方 Close。
func (s Source) Open(ctx context.Context, c *http.Client) (*Session, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(s.baseURL()); err != nil {
		return nil, fmt.Errorf("非法 imdb.base_url：%w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	sc := *c
	sc.Jar = jar
	return &Session{src: s, client: &sc}, nil
}

// Session 是 provider.Session 的 IMDb 实现。
type Session struct {
	src    Source
	client *http.Client

	mu     sync.Mutex
	closed bool
}

var _ providerx.Session = (*Session)(nil)

// Observe 观测一个类别：抓取 + 解析，结果截断到 Limit(expand)。
func (s *Session) Observe(ctx context.Context, g domain.Genre, expand int) ([]domain.Observation, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, providerx.ErrSessionClosed
	}

	obs, _, err := providerx.FetchParse(ctx, s.src, g, expand, s.client)
	if err != nil {
		return nil, err
	}
	if limit := s.src.Limit(expand); len(obs) > limit {
		obs = obs[:limit]
	}
	return obs, nil
}

// Close 释放会话持有的连接；可重复调用。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func fetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	// 字段解析器只认英文文本（“2h 32m”、“1.9M”）。
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := httpx.ReadLimited(resp.Body, maxPageBytes)
	if err != nil {
		return nil, err
	}

	// AWS WAF 挑战页：202 + x-amzn-waf-action，需要浏览器执行 JS，不尝试绕过。
	if action := strings.TrimSpace(resp.Header.Get("x-amzn-waf-action")); action != "" {
		return nil, &providerx.BlockedError{URL: u, Reason: "waf-" + strings.ToLower(action)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providerx.HTTPStatusError{Method: http.MethodGet, URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	if len(b) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
