package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/logging"
	"github.com/John-Robertt/genrecat/internal/provider/imdb"
	"github.com/John-Robertt/genrecat/internal/provider/tmdb"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingToken 表示启用了资源获取，但没有任何来源提供 TMDb token。
	ErrCodeMissingToken = "config_missing_token"
)

const (
	FileName = "genrecat.toml"
	EnvFile  = ".env"
	// TokenEnv 是 tmdb.token 的环境变量回退。
	TokenEnv = "TMDB_API_TOKEN"

	DefaultExpand   = 20
	MaxExpand       = 100
	DefaultLogLevel = "info"
	DefaultYtDlp    = "yt-dlp"
)

// DefaultGenres 是 CLI 与配置文件都未给出类别时的处理集合。
var DefaultGenres = []domain.Genre{{Code: 5, Name: "crime"}}

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	ConfigPath string

	DataRoot string
	Catalog  string

	// Genres 每项为 "5" 或 "5=crime"。
	Genres []string

	Expand    int
	ExpandSet bool

	Apply    bool
	ApplySet bool

	NoAcquire bool
	LogLevel  string
}

// FileConfig 对应 genrecat.toml 的解析结构。
type FileConfig struct {
	DataRoot string `toml:"data_root"`
	Catalog  string `toml:"catalog"`
	Expand   *int   `toml:"expand"`
	Apply    *bool  `toml:"apply"`
	Acquire  *bool  `toml:"acquire"`
	LogLevel string `toml:"log_level"`

	// Genres 的 key 是类别代码（TOML 表的 key 只能是字符串）。
	Genres map[string]string `toml:"genres"`

	TMDb  TMDbFile  `toml:"tmdb"`
	IMDb  IMDbFile  `toml:"imdb"`
	Proxy ProxyFile `toml:"proxy"`
	YtDlp YtDlpFile `toml:"ytdlp"`
}

type TMDbFile struct {
	Token    string `toml:"token"`
	BaseURL  string `toml:"base_url"`
	Language string `toml:"language"`
}

type IMDbFile struct {
	BaseURL     string `toml:"base_url"`
	ReleaseFrom string `toml:"release_from"`
	ReleaseTo   string `toml:"release_to"`
	PageSize    int    `toml:"page_size"`
}

type ProxyFile struct {
	URL        string `toml:"url"`
	ImageProxy bool   `toml:"image_proxy"`
}

type YtDlpFile struct {
	Binary string `toml:"binary"`
}

// EffectiveConfig 是合并并规范化后的最终配置；启动时读取一次，之后只读。
type EffectiveConfig struct {
	// ConfigPath 为实际读取的配置文件；没有读取任何文件时为空。
	ConfigPath string

	DataRoot string `validate:"required"`
	// CatalogPath 为空表示从数据目录下的 IMDb_Genres_Data.csv 读取。
	CatalogPath string

	Genres []domain.Genre `validate:"required,min=1"`
	Expand int            `validate:"min=0,max=100"`

	Apply    bool
	Acquire  bool
	LogLevel string `validate:"required"`

	TMDb  TMDbConfig
	IMDb  IMDbConfig
	Proxy ProxyConfig

	YtDlpBinary string `validate:"required"`
}

type TMDbConfig struct {
	Token    string
	BaseURL  string `validate:"required,url"`
	Language string `validate:"required"`
}

type IMDbConfig struct {
	BaseURL     string `validate:"required,url"`
	ReleaseFrom string `validate:"required,datetime=2006-01-02"`
	ReleaseTo   string `validate:"required,datetime=2006-01-02"`
	PageSize    int    `validate:"min=1,max=250"`
}

type ProxyConfig struct {
	URL        string `validate:"omitempty,url"`
	ImageProxy bool
}

// Layout 返回本次运行的数据目录结构。
func (c EffectiveConfig) Layout() domain.Layout {
	return domain.NewLayout(c.DataRoot, c.Genres)
}

// CatalogSource 返回读取旧目录表的路径。
func (c EffectiveConfig) CatalogSource() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return c.Layout().CatalogPath()
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingToken:
		return fmt.Sprintf("%s：未配置 tmdb.token（也可通过环境变量 %s 或 .env 提供，或使用 --no-acquire）", e.Code, TokenEnv)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path == "" {
				return fmt.Sprintf("%s：%v", e.Code, e.Err)
			}
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件与 .env，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：该文件必须存在
// 2) 否则读取 <cwd>/genrecat.toml（可选）
// 3) <cwd>/.env（可选）只用于提供 TMDB_API_TOKEN；进程环境变量优先于 .env
//
// 覆盖优先级（固定）：CLI > 配置文件 > 环境变量 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	}

	env, err := readDotEnv(filepath.Join(cwdAbs, EnvFile))
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, EnvFile), Err: err}
	}

	return merge(cwdAbs, cli, fc, env, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, env map[string]string, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff := EffectiveConfig{
		ConfigPath: cfgPath,
		Expand:     DefaultExpand,
		Acquire:    true,
		LogLevel:   DefaultLogLevel,
		TMDb: TMDbConfig{
			BaseURL:  tmdb.DefaultBaseURL,
			Language: tmdb.DefaultLanguage,
		},
		IMDb: IMDbConfig{
			BaseURL:     imdb.DefaultBaseURL,
			ReleaseFrom: imdb.DefaultReleaseFrom,
			ReleaseTo:   imdb.DefaultReleaseTo,
			PageSize:    imdb.DefaultPageSize,
		},
		YtDlpBinary: DefaultYtDlp,
	}

	// data_root：CLI > config > cwd
	eff.DataRoot = cwdAbs
	if p := firstNonEmpty(cli.DataRoot, fc.DataRoot); p != "" {
		eff.DataRoot = absCleanFrom(cwdAbs, p)
	}
	if p := firstNonEmpty(cli.Catalog, fc.Catalog); p != "" {
		eff.CatalogPath = absCleanFrom(cwdAbs, p)
	}

	// genres：CLI > config > 默认
	var err error
	switch {
	case len(cli.Genres) > 0:
		eff.Genres, err = parseGenreArgs(cli.Genres)
	case len(fc.Genres) > 0:
		eff.Genres, err = parseGenreTable(fc.Genres)
	default:
		eff.Genres = append([]domain.Genre(nil), DefaultGenres...)
	}
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	if cli.ExpandSet {
		eff.Expand = cli.Expand
	} else if fc.Expand != nil {
		eff.Expand = *fc.Expand
	}

	// apply：CLI --apply/--apply=false > config > 默认 false
	if cli.ApplySet {
		eff.Apply = cli.Apply
	} else if fc.Apply != nil {
		eff.Apply = *fc.Apply
	}

	if fc.Acquire != nil {
		eff.Acquire = *fc.Acquire
	}
	if cli.NoAcquire {
		eff.Acquire = false
	}

	if l := firstNonEmpty(cli.LogLevel, fc.LogLevel); l != "" {
		eff.LogLevel = strings.ToLower(l)
	}
	if _, err := logging.ParseLevel(eff.LogLevel); err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	// token：config > 进程环境变量 > .env
	eff.TMDb.Token = strings.TrimSpace(fc.TMDb.Token)
	if eff.TMDb.Token == "" {
		if v, ok := os.LookupEnv(TokenEnv); ok && strings.TrimSpace(v) != "" {
			eff.TMDb.Token = strings.TrimSpace(v)
		} else {
			eff.TMDb.Token = strings.TrimSpace(env[TokenEnv])
		}
	}
	if v := strings.TrimSpace(fc.TMDb.BaseURL); v != "" {
		eff.TMDb.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(fc.TMDb.Language); v != "" {
		eff.TMDb.Language = v
	}

	if v := strings.TrimSpace(fc.IMDb.BaseURL); v != "" {
		eff.IMDb.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(fc.IMDb.ReleaseFrom); v != "" {
		eff.IMDb.ReleaseFrom = v
	}
	if v := strings.TrimSpace(fc.IMDb.ReleaseTo); v != "" {
		eff.IMDb.ReleaseTo = v
	}
	if fc.IMDb.PageSize != 0 {
		eff.IMDb.PageSize = fc.IMDb.PageSize
	}

	eff.Proxy = ProxyConfig{URL: strings.TrimSpace(fc.Proxy.URL), ImageProxy: fc.Proxy.ImageProxy}
	if v := strings.TrimSpace(fc.YtDlp.Binary); v != "" {
		eff.YtDlpBinary = v
	}

	if err := validate(eff); err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	if eff.Acquire && eff.TMDb.Token == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingToken, Path: cfgPath}
	}
	return eff, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate 先做 struct tag 校验，再做 tag 表达不了的交叉检查。
func validate(eff EffectiveConfig) error {
	if err := structValidator.Struct(eff); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return fmt.Errorf("字段 %s 不满足约束 %s（实际值 %v）", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	for _, u := range []struct{ name, v string }{
		{"tmdb.base_url", eff.TMDb.BaseURL},
		{"imdb.base_url", eff.IMDb.BaseURL},
	} {
		if err := checkHTTPURL(u.name, u.v); err != nil {
			return err
		}
	}
	if eff.IMDb.ReleaseFrom > eff.IMDb.ReleaseTo {
		return fmt.Errorf("imdb.release_from 晚于 release_to：%s > %s", eff.IMDb.ReleaseFrom, eff.IMDb.ReleaseTo)
	}
	if eff.Proxy.URL != "" {
		u, err := url.Parse(eff.Proxy.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("proxy.url 无效：%q", eff.Proxy.URL)
		}
	}
	if eff.Proxy.ImageProxy && eff.Proxy.URL == "" {
		return fmt.Errorf("proxy.image_proxy=true 但 proxy.url 为空")
	}
	return nil
}

func checkHTTPURL(name, v string) error {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", name, v)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", name, v)
	}
	return nil
}

var genreNameRE = regexp.MustCompile(`^[a-z][a-z-]*$`)

// parseGenreArgs 解析 --genre 参数："5" 从内置表查名称，"5=crime" 显式给出名称。
func parseGenreArgs(args []string) ([]domain.Genre, error) {
	table := make(map[string]string, len(args))
	for _, a := range args {
		code, name, _ := strings.Cut(strings.TrimSpace(a), "=")
		code = strings.TrimSpace(code)
		if _, dup := table[code]; dup {
			return nil, fmt.Errorf("重复的类别代码：%q", code)
		}
		table[code] = strings.TrimSpace(name)
	}
	return parseGenreTable(table)
}

func parseGenreTable(table map[string]string) ([]domain.Genre, error) {
	out := make([]domain.Genre, 0, len(table))
	seenName := make(map[string]int, len(table))
	for k, name := range table {
		code, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || code < 0 {
			return nil, fmt.Errorf("非法类别代码：%q", k)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			n, ok := domain.DefaultGenres[code]
			if !ok {
				return nil, fmt.Errorf("类别代码 %d 不在内置表中，需写成 %d=<name>", code, code)
			}
			name = n
		}
		if !genreNameRE.MatchString(name) {
			return nil, fmt.Errorf("非法类别名称：%q", name)
		}
		if other, dup := seenName[name]; dup {
			return nil, fmt.Errorf("类别 %d 与 %d 同名：%q", code, other, name)
		}
		seenName[name] = code
		out = append(out, domain.Genre{Code: code, Name: name})
	}
	domain.SortGenres(out)
	return out, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件；未知字段视为错误（多半是拼写错误）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			return FileConfig{}, true, fmt.Errorf("未知字段：%s", strings.TrimSpace(sme.String()))
		}
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// readDotEnv 读取 .env（不修改进程环境）；文件不存在返回空表。
func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return godotenv.Read(path)
}

// GenreCodes 返回排序后的类别代码（日志/报告用）。
func (c EffectiveConfig) GenreCodes() []int {
	out := make([]int, 0, len(c.Genres))
	for _, g := range c.Genres {
		out = append(out, g.Code)
	}
	sort.Ints(out)
	return out
}
