package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/cache"
	"github.com/John-Robertt/genrecat/internal/infra/httpx"
	"github.com/John-Robertt/genrecat/internal/logging"
	"github.com/John-Robertt/genrecat/internal/provider"
	"github.com/John-Robertt/genrecat/internal/provider/imdb"
	"github.com/John-Robertt/genrecat/internal/provider/poster"
	"github.com/John-Robertt/genrecat/internal/provider/tmdb"
	"github.com/John-Robertt/genrecat/internal/provider/ytdlp"
)

// NewDeps 按最终配置构造生产环境的协作方。
//
// - 列表页：IMDb，带重试的 meta client
// - 预告片：TMDb（不重试）+ 文件缓存；dry-run 缓存只读
// - 音轨：yt-dlp；海报：HEAD/GET + JPEG 规范化
//
// Acquire=false 时不构造资源获取相关的协作方（也就不需要 token）。
func NewDeps(eff config.EffectiveConfig, logger *slog.Logger) (Deps, error) {
	metaClient, err := httpx.NewMetaClient(eff.Proxy.URL)
	if err != nil {
		return Deps{}, fmt.Errorf("proxy.url 无效：%w", err)
	}

	src := imdb.Source{
		BaseURL:     eff.IMDb.BaseURL,
		ReleaseFrom: eff.IMDb.ReleaseFrom,
		ReleaseTo:   eff.IMDb.ReleaseTo,
		PageSize:    eff.IMDb.PageSize,
	}
	deps := Deps{
		Logger: logger,
		Open: func(ctx context.Context) (provider.Session, error) {
			return src.Open(ctx, metaClient)
		},
	}
	if !eff.Acquire {
		return deps, nil
	}

	apiClient, err := httpx.NewAPIClient(eff.Proxy.URL)
	if err != nil {
		return Deps{}, fmt.Errorf("proxy.url 无效：%w", err)
	}
	tc, err := tmdb.New(eff.TMDb.Token,
		tmdb.WithHTTPClient(apiClient),
		tmdb.WithBaseURL(eff.TMDb.BaseURL),
		tmdb.WithLanguage(eff.TMDb.Language),
	)
	if err != nil {
		return Deps{}, err
	}

	imageClient, err := httpx.NewImageClient(eff.Proxy.URL, eff.Proxy.ImageProxy)
	if err != nil {
		return Deps{}, err
	}

	log := logging.OrDiscard(logger)
	deps.Trailers = &cache.Resolver{
		Store: cache.New(eff.Layout().CacheDir(), !eff.Apply),
		Next:  tc,
		OnCacheError: func(id domain.ID, err error) {
			log.Warn("预告片缓存读写失败", "id", string(id), "error", err)
		},
	}
	deps.Audio = ytdlp.New(ytdlp.WithBinary(eff.YtDlpBinary), ytdlp.WithProxy(eff.Proxy.URL))
	deps.Poster = &poster.Fetcher{Client: imageClient}
	return deps, nil
}
