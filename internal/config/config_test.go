package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-Robertt/genrecat/internal/domain"
)

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "missing.toml", NoAcquire: true})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv(TokenEnv, "")

	eff, err := LoadEffective(cwd, CLIArgs{NoAcquire: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != "" {
		t.Fatalf("期望未读取配置文件，实际=%q", eff.ConfigPath)
	}
	if eff.DataRoot != cwd {
		t.Fatalf("期望 data_root=%q，实际=%q", cwd, eff.DataRoot)
	}
	if !reflect.DeepEqual(eff.Genres, DefaultGenres) {
		t.Fatalf("期望默认类别 %v，实际=%v", DefaultGenres, eff.Genres)
	}
	if eff.Expand != DefaultExpand || eff.Apply || eff.Acquire {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	wantCatalog := filepath.Join(cwd, "data_crime", domain.CatalogFileName)
	if got := eff.CatalogSource(); got != wantCatalog {
		t.Fatalf("期望 catalog=%q，实际=%q", wantCatalog, got)
	}
}

func TestLoadEffective_FileValues(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
data_root = "out"
catalog = "IMDb_Genres_Data.csv"
expand = 3
apply = true
log_level = "debug"

[genres]
"7" = ""
"5" = "crime"

[tmdb]
token = "file-token"
language = "de-DE"

[imdb]
base_url = "http://127.0.0.1:9/"
page_size = 25

[proxy]
url = "http://127.0.0.1:7890"
image_proxy = true

[ytdlp]
binary = "/opt/yt-dlp"
`))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != filepath.Join(cwd, FileName) {
		t.Fatalf("ConfigPath 不符合预期：%q", eff.ConfigPath)
	}
	want := []domain.Genre{{Code: 5, Name: "crime"}, {Code: 7, Name: "drama"}}
	if !reflect.DeepEqual(eff.Genres, want) {
		t.Fatalf("期望类别 %v，实际=%v", want, eff.Genres)
	}
	if eff.DataRoot != filepath.Join(cwd, "out") || eff.CatalogPath != filepath.Join(cwd, "IMDb_Genres_Data.csv") {
		t.Fatalf("路径不符合预期：%+v", eff)
	}
	if eff.Expand != 3 || !eff.Apply || !eff.Acquire || eff.LogLevel != "debug" {
		t.Fatalf("标量字段不符合预期：%+v", eff)
	}
	if eff.TMDb.Token != "file-token" || eff.TMDb.Language != "de-DE" {
		t.Fatalf("tmdb 不符合预期：%+v", eff.TMDb)
	}
	if eff.IMDb.BaseURL != "http://127.0.0.1:9" || eff.IMDb.PageSize != 25 {
		t.Fatalf("imdb 不符合预期：%+v", eff.IMDb)
	}
	if eff.YtDlpBinary != "/opt/yt-dlp" || !eff.Proxy.ImageProxy {
		t.Fatalf("ytdlp/proxy 不符合预期：%+v", eff)
	}
	if got := eff.Layout().DataDir; got != filepath.Join(cwd, "out", "data_crime_drama") {
		t.Fatalf("数据目录不符合预期：%q", got)
	}
}

func TestLoadEffective_CLIOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
expand = 9
apply = true
acquire = true

[genres]
"5" = "crime"

[tmdb]
token = "t"
`))

	eff, err := LoadEffective(cwd, CLIArgs{
		Genres:    []string{"13", "2=animation"},
		Expand:    0,
		ExpandSet: true,
		Apply:     false,
		ApplySet:  true, // --apply=false
		NoAcquire: true,
		LogLevel:  "WARN",
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []domain.Genre{{Code: 2, Name: "animation"}, {Code: 13, Name: "horror"}}
	if !reflect.DeepEqual(eff.Genres, want) {
		t.Fatalf("期望类别 %v，实际=%v", want, eff.Genres)
	}
	if eff.Expand != 0 || eff.Apply || eff.Acquire || eff.LogLevel != "warn" {
		t.Fatalf("CLI 覆盖失败：%+v", eff)
	}
}

func TestLoadEffective_TokenPrecedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, EnvFile), []byte("TMDB_API_TOKEN=from-dotenv\n"))

	t.Setenv(TokenEnv, "")
	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.TMDb.Token != "from-dotenv" {
		t.Fatalf("期望使用 .env 中的 token，实际=%q", eff.TMDb.Token)
	}

	t.Setenv(TokenEnv, "from-env")
	eff, err = LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.TMDb.Token != "from-env" {
		t.Fatalf("期望进程环境变量优先，实际=%q", eff.TMDb.Token)
	}

	writeFile(t, filepath.Join(cwd, FileName), []byte("[tmdb]\ntoken = \"from-file\"\n"))
	eff, err = LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.TMDb.Token != "from-file" {
		t.Fatalf("期望配置文件优先，实际=%q", eff.TMDb.Token)
	}
}

func TestLoadEffective_MissingToken(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv(TokenEnv, "")

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingToken {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingToken, err, Code(err))
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]struct {
		file string
		cli  CLIArgs
	}{
		"bad toml":            {file: `expand = `},
		"unknown field":       {file: `expnad = 3`},
		"expand range":        {file: `expand = 101`},
		"unknown genre code":  {cli: CLIArgs{Genres: []string{"99"}}},
		"bad genre code":      {cli: CLIArgs{Genres: []string{"x=crime"}}},
		"duplicate genre":     {cli: CLIArgs{Genres: []string{"5", "5=crime"}}},
		"bad genre name":      {cli: CLIArgs{Genres: []string{"40=Sci Fi"}}},
		"bad log level":       {cli: CLIArgs{LogLevel: "loud"}},
		"bad release date":    {file: "[imdb]\nrelease_from = \"2000/01/01\""},
		"release order":       {file: "[imdb]\nrelease_from = \"2020-01-01\"\nrelease_to = \"2010-01-01\""},
		"imdb scheme":         {file: "[imdb]\nbase_url = \"ftp://imdb.example\""},
		"proxy url":           {file: "[proxy]\nurl = \"http://[::1\""},
		"image proxy w/o url": {file: "[proxy]\nimage_proxy = true"},
		"page size":           {file: "[imdb]\npage_size = 1000"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			if tc.file != "" {
				writeFile(t, filepath.Join(cwd, FileName), []byte(tc.file))
			}
			tc.cli.NoAcquire = true
			_, err := LoadEffective(cwd, tc.cli)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
