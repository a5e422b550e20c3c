package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
	"github.com/John-Robertt/genrecat/internal/logging"
)

// TrailerResolver 把 ID 解析为预告片地址。任何错误都按“没有预告片”处理。
type TrailerResolver interface {
	ResolveTrailer(ctx context.Context, id domain.ID) (string, error)
}

// Fetcher 是资源获取器：Probe 只做元数据检查，Fetch 把资源写到 dst。
type Fetcher interface {
	Probe(ctx context.Context, locator string) error
	Fetch(ctx context.Context, locator, dst string) error
}

// Stage 是单条记录的资源获取状态机节点。
type Stage string

const (
	StageNotAttempted Stage = "not_attempted"
	StageValidating   Stage = "validating"
	StageFetching     Stage = "fetching"
	StageCommitted    Stage = "committed"
	StageSkipped      Stage = "skipped"
)

// Outcome 是一次 Acquire 的结果。
//
// Validated=true 只出现在 dry-run：校验全部通过、停在 Fetching 之前，记录状态不变。
type Outcome struct {
	State     domain.ResourceState
	Stage     Stage // 终止时所在的节点（失败节点或终态）
	ErrorCode string
	Err       error
	Trail     []Stage
	Validated bool
}

// Status 返回 report 中的 item 状态。
func (o Outcome) Status() string {
	switch {
	case o.Validated:
		return domain.StatusValidated
	case o.State == domain.StateCommitted:
		return domain.StatusCommitted
	default:
		return domain.StatusSkipped
	}
}

// Acquirer 对单条记录执行 validate -> fetch -> commit，任何阶段失败都回滚到“两个产物都不存在”。
//
// 约束：
// - 严格串行：一条记录完整结束后才处理下一条
// - 不重试：任一阶段失败即为该记录本轮的最终结果
// - Acquire 返回时，同一 ID 不会只存在一个产物
type Acquirer struct {
	Layout   domain.Layout
	Trailers TrailerResolver
	Audio    Fetcher
	Poster   Fetcher
	Logger   *slog.Logger

	// DryRun=true：只校验，不下载、不写盘。
	DryRun bool
	// ProbeAudio=true：校验阶段额外对预告片做一次元数据检查。
	ProbeAudio bool
}

type machine struct {
	out Outcome
}

func (m *machine) enter(s Stage) {
	m.out.Stage = s
	m.out.Trail = append(m.out.Trail, s)
}

func (m *machine) skip(code string, err error) Outcome {
	m.out.ErrorCode = code
	m.out.Err = err
	m.out.State = domain.StateSkipped
	m.out.Trail = append(m.out.Trail, StageSkipped)
	return m.out
}

// Acquire 执行状态机并更新 rec.State（dry-run 的 validated 除外）。
func (a *Acquirer) Acquire(ctx context.Context, rec *domain.MovieRecord) Outcome {
	if rec == nil {
		return Outcome{State: domain.StateSkipped, Stage: StageNotAttempted, ErrorCode: domain.ErrCodeIOFailed, Err: errors.New("record 不能为空")}
	}
	log := logging.OrDiscard(a.Logger).With("id", string(rec.ID))

	out := a.run(ctx, rec, log)
	if !out.Validated {
		rec.State = out.State
	}

	switch {
	case out.Validated:
		log.Debug("资源校验通过（dry-run）")
	case out.State == domain.StateCommitted:
		log.Debug("资源已提交", "trail", out.Trail)
	default:
		log.Info("资源获取跳过", "stage", string(out.Stage), "error_code", out.ErrorCode, "error", errString(out.Err))
	}
	return out
}

func (a *Acquirer) run(ctx context.Context, rec *domain.MovieRecord, log *slog.Logger) Outcome {
	m := &machine{out: Outcome{State: rec.State}}
	m.enter(StageNotAttempted)

	audioPath := a.Layout.AudioPath(rec.ID)
	posterPath := a.Layout.PosterPath(rec.ID)

	// 1) 两个产物都已存在：视为此前已提交，不发起任何网络或写盘操作。
	hasAudio, err := fsx.Exists(audioPath)
	if err != nil {
		return m.skip(domain.ErrCodeIOFailed, err)
	}
	hasPoster, err := fsx.Exists(posterPath)
	if err != nil {
		return m.skip(domain.ErrCodeIOFailed, err)
	}
	if hasAudio && hasPoster {
		m.out.State = domain.StateCommitted
		m.enter(StageCommitted)
		return m.out
	}

	// 2) 没有海报地址。
	posterURI, ok := rec.PosterURI.Get()
	if !ok || strings.TrimSpace(posterURI) == "" {
		return m.skip(domain.ErrCodeNoPoster, nil)
	}

	// 3) 解析预告片地址（失败一律视为没有）。
	m.enter(StageValidating)
	if a.Trailers == nil {
		return m.skip(domain.ErrCodeNoTrailer, errors.New("未配置预告片解析器"))
	}
	trailer, err := a.Trailers.ResolveTrailer(ctx, rec.ID)
	if err != nil || strings.TrimSpace(trailer) == "" {
		return m.skip(domain.ErrCodeNoTrailer, err)
	}

	// 4) 海报可达性检查。
	if err := a.Poster.Probe(ctx, posterURI); err != nil {
		return m.skip(domain.ErrCodePosterUnreachable, err)
	}
	if a.ProbeAudio {
		if err := a.Audio.Probe(ctx, trailer); err != nil {
			return m.skip(domain.ErrCodeTrailerUnreachable, err)
		}
	}

	// 5) 校验通过。
	m.enter(StageFetching)
	if a.DryRun {
		m.out.Validated = true
		return m.out
	}

	if err := os.MkdirAll(a.Layout.AudioDir(), 0o755); err != nil {
		return m.skip(domain.ErrCodeIOFailed, err)
	}
	if err := os.MkdirAll(a.Layout.PosterDir(), 0o755); err != nil {
		return m.skip(domain.ErrCodeIOFailed, err)
	}

	// 6) 音频：失败或调用返回后文件不存在，都清理该 ID 的半成品。
	err = a.Audio.Fetch(ctx, trailer, audioPath)
	if err == nil {
		var ok bool
		ok, err = fsx.Exists(audioPath)
		if err == nil && !ok {
			err = fmt.Errorf("音频文件不存在：%q", audioPath)
		}
	}
	if err != nil {
		if rerr := a.removeAudio(rec.ID); rerr != nil {
			log.Error("清理音频半成品失败", "error", rerr)
			err = errors.Join(err, rerr)
		}
		return m.skip(domain.ErrCodeAudioFetchFailed, err)
	}

	// 7) 海报：失败则回滚刚写入的音频。
	err = a.Poster.Fetch(ctx, posterURI, posterPath)
	if err == nil {
		var ok bool
		ok, err = fsx.Exists(posterPath)
		if err == nil && !ok {
			err = fmt.Errorf("海报文件不存在：%q", posterPath)
		}
	}
	if err != nil {
		if rerr := a.rollback(rec.ID); rerr != nil {
			log.Error("回滚失败，可能残留单个产物（下次 apply 运行会对账清理）", "error", rerr)
			err = errors.Join(err, rerr)
		}
		return m.skip(domain.ErrCodePosterFetchFailed, err)
	}

	// 8) 两个产物都已落盘。
	m.out.State = domain.StateCommitted
	m.enter(StageCommitted)
	return m.out
}

// removeAudio 删除 audios/ 下该 ID 的所有文件（<id>.opus 以及下载器的中间文件）。
func (a *Acquirer) removeAudio(id domain.ID) error {
	_, err := fsx.RemoveByPrefix(a.Layout.AudioDir(), string(id)+".")
	return err
}

func (a *Acquirer) rollback(id domain.ID) error {
	return errors.Join(
		a.removeAudio(id),
		fsx.RemoveIfExists(a.Layout.PosterPath(id)),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
