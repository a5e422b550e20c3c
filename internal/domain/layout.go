package domain

import (
	"path/filepath"
	"strings"
)

const (
	AudioExt        = ".opus"
	PosterExt       = ".jpg"
	CatalogFileName = "IMDb_Genres_Data.csv"
)

// Layout 描述一次运行的数据目录结构（所有路径都由 ID 确定性推导）。
//
//	<data_dir>/audios/<id>.opus
//	<data_dir>/posters/<id>.jpg
//	<data_dir>/IMDb_Genres_Data.csv
//	<data_dir>/cache/
type Layout struct {
	DataDir string
}

// DataDirName 按处理的类别集合命名：data_<name1>_<name2>...
func DataDirName(gs []Genre) string {
	return "data_" + strings.Join(GenreNames(gs), "_")
}

func NewLayout(root string, gs []Genre) Layout {
	return Layout{DataDir: filepath.Join(filepath.Clean(root), DataDirName(gs))}
}

func (l Layout) AudioDir() string  { return filepath.Join(l.DataDir, "audios") }
func (l Layout) PosterDir() string { return filepath.Join(l.DataDir, "posters") }
func (l Layout) CacheDir() string  { return filepath.Join(l.DataDir, "cache") }

func (l Layout) AudioPath(id ID) string {
	return filepath.Join(l.AudioDir(), string(id)+AudioExt)
}

func (l Layout) PosterPath(id ID) string {
	return filepath.Join(l.PosterDir(), string(id)+PosterExt)
}

func (l Layout) CatalogPath() string {
	return filepath.Join(l.DataDir, CatalogFileName)
}

// ArtifactState 是某个 ID 的两个产物在磁盘上的现状（只做 stat，不读内容）。
type ArtifactState struct {
	HasAudio  bool
	HasPoster bool
}

func (s ArtifactState) Both() bool { return s.HasAudio && s.HasPoster }

// Orphan 表示只剩单个产物（中断的运行留下的半成品）。
func (s ArtifactState) Orphan() bool { return s.HasAudio != s.HasPoster }
