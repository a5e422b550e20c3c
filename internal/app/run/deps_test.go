package run

import (
	"context"
	"testing"

	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
)

func baseConfig(t *testing.T) config.EffectiveConfig {
	t.Helper()
	return config.EffectiveConfig{
		DataRoot: t.TempDir(),
		Genres:   []domain.Genre{{Code: 5, Name: "crime"}},
		IMDb: config.IMDbConfig{
			BaseURL:     "http://127.0.0.1:9",
			ReleaseFrom: "2000-01-01",
			ReleaseTo:   "2025-12-31",
			PageSize:    50,
		},
		TMDb:        config.TMDbConfig{Token: "tok", BaseURL: "http://127.0.0.1:9", Language: "en-US"},
		YtDlpBinary: "yt-dlp",
	}
}

func TestNewDeps_NoAcquireSkipsResourceCollaborators(t *testing.T) {
	eff := baseConfig(t)
	eff.TMDb.Token = ""

	deps, err := NewDeps(eff, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if deps.Trailers != nil || deps.Audio != nil || deps.Poster != nil {
		t.Fatalf("--no-acquire 不应构造资源协作方：%+v", deps)
	}

	sess, err := deps.Open(context.Background())
	if err != nil {
		t.Fatalf("打开会话失败：%v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("关闭会话失败：%v", err)
	}
}

func TestNewDeps_Acquire(t *testing.T) {
	eff := baseConfig(t)
	eff.Acquire = true

	deps, err := NewDeps(eff, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if deps.Trailers == nil || deps.Audio == nil || deps.Poster == nil {
		t.Fatalf("期望构造全部协作方：%+v", deps)
	}
}

func TestNewDeps_ImageProxyWithoutURL(t *testing.T) {
	eff := baseConfig(t)
	eff.Acquire = true
	eff.Proxy.ImageProxy = true

	if _, err := NewDeps(eff, nil); err == nil {
		t.Fatalf("期望 image_proxy 缺少 proxy.url 时报错")
	}
}
