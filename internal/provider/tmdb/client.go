package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/httpx"
	providerx "github.com/John-Robertt/genrecat/internal/provider"
)

const (
	DefaultBaseURL  = "https://api.themoviedb.org/3"
	DefaultLanguage = "en-US"

	youtubeWatchURL = "https://www.youtube.com/watch?v="
	maxBodyBytes    = 4 << 20
)

// ErrNoTrailer 表示该条目在 TMDb 上没有 YouTube 预告片。
var ErrNoTrailer = errors.New("tmdb: 没有找到 YouTube 预告片")

// Video 是 /movie/{id}/videos 结果中的一项。
type Video struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
}

// VideosResponse 是 /movie/{id}/videos 的响应体。
type VideosResponse struct {
	ID      int64   `json:"id"`
	Results []Video `json:"results"`
}

// Client 通过 TMDb API 把 IMDb ID 解析为预告片地址。
type Client struct {
	token      string
	baseURL    string
	language   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API root (tests, mirrors).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if u := strings.TrimSpace(baseURL); u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithLanguage sets the language query parameter.
func WithLanguage(language string) Option {
	return func(c *Client) {
		if l := strings.TrimSpace(language); l != "" {
			c.language = l
		}
	}
}

// New 创建 TMDb client；token 是 v4 读访问令牌（Bearer）。
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	// 兼容直接粘贴整段 "Bearer xxx" 的写法。
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil, errors.New("tmdb token 不能为空")
	}
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		language:   DefaultLanguage,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Videos 查询条目的视频列表。
func (c *Client) Videos(ctx context.Context, id domain.ID) (*VideosResponse, error) {
	if _, ok := domain.ParseID(string(id)); !ok {
		return nil, fmt.Errorf("非法 id：%q", id)
	}
	endpoint, err := url.Parse(c.baseURL + "/movie/" + url.PathEscape(string(id)) + "/videos")
	if err != nil {
		return nil, fmt.Errorf("parse tmdb url: %w", err)
	}
	params := url.Values{}
	if c.language != "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &providerx.HTTPStatusError{Method: http.MethodGet, URL: endpoint.String(), StatusCode: resp.StatusCode}
	}
	b, err := httpx.ReadLimited(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, err
	}
	var payload VideosResponse
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("decode tmdb response: %w", err)
	}
	return &payload, nil
}

// ResolveTrailer 返回第一个 type=Trailer 且 site=YouTube 的视频地址；没有则返回 ErrNoTrailer。
func (c *Client) ResolveTrailer(ctx context.Context, id domain.ID) (string, error) {
	payload, err := c.Videos(ctx, id)
	if err != nil {
		return "", err
	}
	v, ok := FirstTrailer(payload.Results)
	if !ok {
		return "", ErrNoTrailer
	}
	return youtubeWatchURL + url.QueryEscape(v.Key), nil
}

// FirstTrailer 按响应顺序挑选第一个 YouTube 预告片。
func FirstTrailer(videos []Video) (Video, bool) {
	for _, v := range videos {
		if v.Type == "Trailer" && v.Site == "YouTube" && strings.TrimSpace(v.Key) != "" {
			return v, true
		}
	}
	return Video{}, false
}
