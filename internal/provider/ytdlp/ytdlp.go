package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/genrecat/internal/infra/fsx"
)

var commandContext = exec.CommandContext

const (
	defaultBinary = "yt-dlp"
	// 体积最小的音轨：优先 webm 音频，其次任意最差音频，最后最差整体格式。
	defaultFormat = "worstaudio[ext=webm]/worstaudio/worst"

	stderrTail = 2048
)

// ErrMissingOutput 表示 yt-dlp 正常退出但目标文件不存在。
var ErrMissingOutput = errors.New("yt-dlp 未产出目标文件")

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(f *Fetcher) {
		if b := strings.TrimSpace(binary); b != "" {
			f.binary = b
		}
	}
}

// WithProxy 让 yt-dlp 走代理（与页面抓取同一代理）。
func WithProxy(proxyURL string) Option {
	return func(f *Fetcher) {
		f.proxy = strings.TrimSpace(proxyURL)
	}
}

// Fetcher 调用 yt-dlp 把预告片音轨提取为 Opus。
//
// 约束：
// - 输出路径由调用方给定（<audios>/<id>.opus），扩展名必须是 .opus
// - 不做重试；失败时留下的中间文件由调用方按前缀清理
type Fetcher struct {
	binary string
	format string
	proxy  string
}

// New 创建 Fetcher。
func New(opts ...Option) *Fetcher {
	f := &Fetcher{binary: defaultBinary, format: defaultFormat}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Binary 返回实际调用的可执行文件名。
func (f *Fetcher) Binary() string { return f.binary }

// Probe 只做元数据检查（--simulate），不下载任何内容。
func (f *Fetcher) Probe(ctx context.Context, locator string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return errors.New("locator 不能为空")
	}
	args := f.baseArgs()
	args = append(args, "--simulate", "--", locator)
	return f.run(ctx, args)
}

// Fetch 下载并提取音轨到 dst。
func (f *Fetcher) Fetch(ctx context.Context, locator, dst string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return errors.New("locator 不能为空")
	}
	dst = strings.TrimSpace(dst)
	if dst == "" {
		return errors.New("目标路径不能为空")
	}
	if filepath.Ext(dst) != ".opus" {
		return fmt.Errorf("目标路径必须是 .opus：%q", dst)
	}
	stem := strings.TrimSuffix(dst, filepath.Ext(dst))

	args := f.baseArgs()
	args = append(args,
		"--extract-audio",
		"--audio-format", "opus",
		"--audio-quality", "0",
		"--postprocessor-args", "ffmpeg:-metadata comment=",
		"--no-write-thumbnail",
		"--no-write-info-json",
		"--output", stem+".%(ext)s",
		"--", locator,
	)
	if err := f.run(ctx, args); err != nil {
		return err
	}

	ok, err := fsx.Exists(dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w：%q", ErrMissingOutput, dst)
	}
	return nil
}

func (f *Fetcher) baseArgs() []string {
	args := []string{"--no-playlist", "--quiet", "--no-warnings", "--no-progress", "--format", f.format}
	if f.proxy != "" {
		args = append(args, "--proxy", f.proxy)
	}
	return args
}

func (f *Fetcher) run(ctx context.Context, args []string) error {
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if msg == "" {
			return fmt.Errorf("%s 执行失败：%w", f.binary, err)
		}
		return fmt.Errorf("%s 执行失败：%w：%s", f.binary, err, msg)
	}
	return nil
}
