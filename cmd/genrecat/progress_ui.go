package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/genrecat/internal/app/run"
	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：单条记录下载较慢时也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total     int
	done      int
	committed int
	validated int
	skipped   int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 10 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不下载/不写入)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}
	l := eff.Layout()

	fmt.Fprintf(p.w, "[%s] genrecat run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  genres: %s\n", formatGenres(eff.Genres))
	fmt.Fprintf(p.w, "  expand: %d (每类最多 %d 条)\n", eff.Expand, eff.IMDb.PageSize*(eff.Expand+1))
	fmt.Fprintf(p.w, "  acquire: %s\n", onOff(eff.Acquire))
	if eff.Acquire {
		fmt.Fprintf(p.w, "  tmdb_token: %s\n", onOff(eff.TMDb.Token != ""))
		fmt.Fprintf(p.w, "  yt-dlp: %s\n", eff.YtDlpBinary)
	}
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.Proxy.URL))
	fmt.Fprintf(p.w, "  image_proxy: %s\n", onOff(eff.Proxy.ImageProxy))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  data: %s\n", l.DataDir)
	fmt.Fprintf(p.w, "  catalog: %s\n", l.CatalogPath())
	if eff.CatalogPath != "" && eff.CatalogPath != l.CatalogPath() {
		fmt.Fprintf(p.w, "  catalog (读取): %s\n", eff.CatalogPath)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case run.PhaseLoad:
		fmt.Fprintf(p.w, "读取目录表: records=%d (%s)\n", intField(fields, "records"), formatShortDuration(dur))
	case run.PhaseReconcile:
		fmt.Fprintf(p.w, "对账: orphans_removed=%d residues_removed=%d (%s)\n",
			intField(fields, "orphans_removed"), intField(fields, "residues_removed"), formatShortDuration(dur),
		)
	case run.PhaseObserve:
		genre, _ := fields["genre"].(string)
		if intField(fields, "failed") > 0 {
			fmt.Fprintf(p.w, "观测 %s: FAIL (%s)\n", genre, formatShortDuration(dur))
			break
		}
		fmt.Fprintf(p.w, "观测 %s: observed=%d discarded=%d inserted=%d collisions=%d (%s)\n",
			genre,
			intField(fields, "observed"),
			intField(fields, "discarded"),
			intField(fields, "inserted"),
			intField(fields, "collisions"),
			formatShortDuration(dur),
		)
	case run.PhasePlan:
		p.total = intField(fields, "need_acquire")
		fmt.Fprintf(p.w, "规划: records=%d need_acquire=%d drift=%d (%s)\n\n",
			intField(fields, "records"), p.total, intField(fields, "drift"), formatShortDuration(dur),
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case run.PhaseAcquire:
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "\n资源获取: attempted=%d/%d (%s)\n",
			intField(fields, "attempted"), intField(fields, "total"), formatElapsed(dur),
		)
	case run.PhasePersist:
		written, _ := fields["written"].(bool)
		path, _ := fields["path"].(string)
		if written {
			fmt.Fprintf(p.w, "持久化: rows=%d -> %s (%s)\n", intField(fields, "rows"), path, formatShortDuration(dur))
		} else {
			fmt.Fprintf(p.w, "持久化: rows=%d（未写入）\n", intField(fields, "rows"))
		}
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, id domain.ID, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	var status string
	switch res.Status {
	case domain.StatusCommitted:
		p.committed++
		status = "OK"
	case domain.StatusValidated:
		p.validated++
		status = "VALID"
	case domain.StatusSkipped:
		p.skipped++
		status = "SKIP"
	default:
		status = strings.ToUpper(res.Status)
	}

	if res.ErrorCode != "" {
		msg := ""
		if res.ErrorMsg != "" {
			msg = ": " + truncate(res.ErrorMsg, 120)
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s%s (%s)\n",
			idx, total, id, status, res.ErrorCode, msg, formatShortDuration(dur),
		)
	} else {
		fmt.Fprintf(p.w, "[%d/%d] %s %s [%s] (%s)\n",
			idx, total, id, status, res.Genre, formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Stop 停止 keepalive（运行提前结束时由 CLI 调用）；可重复调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d valid=%d skip=%d elapsed=%s\n",
						p.done, p.total, p.committed, p.validated, p.skipped, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func formatGenres(gs []domain.Genre) string {
	parts := make([]string, 0, len(gs))
	for _, g := range gs {
		parts = append(parts, fmt.Sprintf("%d=%s", g.Code, g.Name))
	}
	return strings.Join(parts, ", ")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
