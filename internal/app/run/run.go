package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/genrecat/internal/app"
	"github.com/John-Robertt/genrecat/internal/app/acquire"
	"github.com/John-Robertt/genrecat/internal/app/planner"
	"github.com/John-Robertt/genrecat/internal/catalogcsv"
	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
	"github.com/John-Robertt/genrecat/internal/logging"
	"github.com/John-Robertt/genrecat/internal/provider"
	"github.com/John-Robertt/genrecat/internal/scan"
)

// Deps 是一次运行的外部协作方。生产环境由 NewDeps 按配置构造，测试直接注入桩。
type Deps struct {
	// Open 打开观测会话；整个运行复用同一个会话，结束时关闭。
	Open func(ctx context.Context) (provider.Session, error)

	Trailers acquire.TrailerResolver
	Audio    acquire.Fetcher
	Poster   acquire.Fetcher

	Logger *slog.Logger
	// RunID 为空时生成 uuid。
	RunID string
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 单条记录/单个类别的失败被降级为 item；只有加锁、读取目录表与持久化失败会让整个运行失败。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// 顺序（严格串行）：
// 加锁(apply) -> 读取目录表 -> 对账(apply) -> 打开会话 -> 逐类别观测/规范化/合并 -> 规划 -> 逐条获取资源 -> 持久化(apply)
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	runID := strings.TrimSpace(deps.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	layout := eff.Layout()
	log := logging.OrDiscard(deps.Logger).With("run_id", runID)

	if obs != nil {
		obs.OnStart(eff)
	}

	r := &runner{
		eff:    eff,
		deps:   deps,
		obs:    obs,
		log:    log,
		layout: layout,
		names:  genreNames(eff.Genres),
		rr: domain.RunReport{
			RunID:     runID,
			DataDir:   layout.DataDir,
			DryRun:    !eff.Apply,
			StartedAt: deps.now(),
			Items:     make([]domain.ItemResult, 0, 128),
		},
	}
	log.Info("run 开始", "data_dir", layout.DataDir, "apply", eff.Apply, "acquire", eff.Acquire, "genres", eff.GenreCodes(), "expand", eff.Expand)

	r.execute(ctx)

	r.rr.FinishedAt = deps.now()
	r.rr.Finalize()
	s := r.rr.Summary
	log.Info("run 结束",
		"observed", s.Observed, "discarded", s.Discarded, "inserted", s.Inserted, "collisions", s.Collisions,
		"committed", s.Committed, "skipped", s.Skipped, "validated", s.Validated, "failed", s.Failed,
		"persisted", s.Persisted, "orphans_removed", s.OrphansRemoved,
	)
	return r.rr
}

type runner struct {
	eff    config.EffectiveConfig
	deps   Deps
	obs    Observer
	log    *slog.Logger
	layout domain.Layout
	names  map[int]string

	// validated 记录 dry-run 中校验通过的 ID（apply 时它们会被提交）。
	validated []domain.ID

	rr domain.RunReport
}

func (r *runner) execute(ctx context.Context) {
	if r.eff.Apply {
		lock, err := fsx.LockDir(r.layout.DataDir)
		if err != nil {
			r.fail(domain.ErrCodeLockFailed, "", fmt.Sprintf("锁定数据目录失败：%v", err))
			return
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				r.log.Warn("释放数据目录锁失败", "error", err)
			}
		}()
	}

	started := time.Now()
	catalog, err := catalogcsv.Load(r.eff.CatalogSource())
	if err != nil {
		// 旧表格读不出来时不能继续：持久化会用不完整的目录覆盖它。
		r.fail(domain.ErrCodeIOFailed, "", fmt.Sprintf("读取目录表失败 %q：%v", r.eff.CatalogSource(), err))
		return
	}
	r.phase(PhaseLoad, map[string]any{"records": catalog.Len()}, time.Since(started))

	if r.eff.Apply {
		r.reconcile()
	}

	r.observe(ctx, catalog)

	started = time.Now()
	plans, err := planner.PlanCatalog(r.layout, catalog)
	if err != nil {
		r.fail(domain.ErrCodeIOFailed, "", fmt.Sprintf("读取产物状态失败：%v", err))
		plans = nil
	}
	need, drift := 0, 0
	for _, p := range plans {
		if p.Drift {
			drift++
			if rec, ok := catalog.Get(p.ID); ok {
				planner.Apply(rec, p)
			}
			r.log.Warn("目录表记为 committed 但产物不全，重新获取", "id", string(p.ID), "has_audio", p.Artifacts.HasAudio, "has_poster", p.Artifacts.HasPoster)
		}
		if p.NeedAcquire {
			need++
		}
	}
	r.phase(PhasePlan, map[string]any{"records": catalog.Len(), "need_acquire": need, "drift": drift}, time.Since(started))

	if r.eff.Acquire {
		r.acquireAll(ctx, catalog, plans, need)
	}

	r.persist(catalog)
}

func (r *runner) reconcile() {
	started := time.Now()
	res, err := scan.Reconcile(r.layout)
	r.rr.Counters.OrphansRemoved = len(res.OrphansRemoved)
	for _, id := range res.OrphansRemoved {
		r.log.Info("删除孤儿产物", "id", string(id))
	}
	if err != nil {
		// 清理失败不影响本轮：留下的孤儿会在 acquire 时被当作“未提交”重新处理。
		r.log.Warn("对账未完全成功", "error", err)
	}
	r.phase(PhaseReconcile, map[string]any{
		"orphans_removed":  len(res.OrphansRemoved),
		"residues_removed": res.ResiduesRemoved,
	}, time.Since(started))
}

func (r *runner) observe(ctx context.Context, catalog *domain.Catalog) {
	if len(r.eff.Genres) == 0 {
		return
	}
	if r.deps.Open == nil {
		r.fail(domain.ErrCodeFetchFailed, "", "未配置观测来源")
		return
	}
	sess, err := r.deps.Open(ctx)
	if err != nil {
		r.fail(domain.ErrCodeFetchFailed, "", fmt.Sprintf("打开观测会话失败：%v", err))
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.log.Warn("关闭观测会话失败", "error", err)
		}
	}()

	for _, g := range r.eff.Genres {
		if err := ctx.Err(); err != nil {
			r.fail(domain.ErrCodeFetchFailed, g.Name, fmt.Sprintf("已取消：%v", err))
			return
		}
		started := time.Now()
		log := r.log.With("genre", g.Name, "tag", g.Code)

		batch, err := sess.Observe(ctx, g, r.eff.Expand)
		if err != nil {
			code, msg := classifyObserveError(err)
			log.Warn("类别观测失败", "error_code", code, "error", err)
			r.rr.Items = append(r.rr.Items, domain.ItemResult{
				Genre:     g.Name,
				Status:    domain.StatusFailed,
				Stage:     PhaseObserve,
				ErrorCode: code,
				ErrorMsg:  msg,
			})
			r.phase(PhaseObserve, map[string]any{"genre": g.Name, "failed": 1}, time.Since(started))
			continue
		}

		records, discards := app.NormalizeBatch(batch)
		for _, d := range discards {
			log.Debug("丢弃观测", "position", d.Position, "href", d.Href)
			r.rr.Items = append(r.rr.Items, domain.ItemResult{
				Genre:     g.Name,
				Status:    domain.StatusDiscarded,
				Stage:     "normalize",
				ErrorCode: domain.ErrCodeUnresolvedID,
				ErrorMsg:  d.Error(),
			})
		}

		mr := app.Merge(catalog, records)
		r.rr.Counters.Observed += len(batch)
		r.rr.Counters.Inserted += len(mr.Inserted)
		r.rr.Counters.Collisions += mr.Collisions
		log.Info("类别观测完成", "observed", len(batch), "discarded", len(discards), "inserted", len(mr.Inserted), "collisions", mr.Collisions)
		r.phase(PhaseObserve, map[string]any{
			"genre":      g.Name,
			"observed":   len(batch),
			"discarded":  len(discards),
			"inserted":   len(mr.Inserted),
			"collisions": mr.Collisions,
		}, time.Since(started))
	}
}

func (r *runner) acquireAll(ctx context.Context, catalog *domain.Catalog, plans []planner.Plan, total int) {
	acq := &acquire.Acquirer{
		Layout:   r.layout,
		Trailers: r.deps.Trailers,
		Audio:    r.deps.Audio,
		Poster:   r.deps.Poster,
		Logger:   r.log,
		DryRun:   !r.eff.Apply,
		// dry-run 不下载，额外探测一次预告片，尽量让“validated”名副其实。
		ProbeAudio: !r.eff.Apply,
	}

	started := time.Now()
	idx := 0
	for _, p := range plans {
		if !p.NeedAcquire {
			continue
		}
		rec, ok := catalog.Get(p.ID)
		if !ok {
			continue
		}
		// 单条记录内部不支持取消；只在记录之间检查。
		if err := ctx.Err(); err != nil {
			r.log.Warn("运行被取消，剩余记录留待下次", "remaining", total-idx, "error", err)
			break
		}
		idx++
		one := time.Now()
		out := acq.Acquire(ctx, rec)
		item := domain.ItemResult{
			ID:        string(rec.ID),
			Genre:     r.tagLabel(rec.Tags),
			Status:    out.Status(),
			Stage:     string(out.Stage),
			ErrorCode: out.ErrorCode,
		}
		if out.Err != nil {
			item.ErrorMsg = out.Err.Error()
		}
		r.rr.Items = append(r.rr.Items, item)
		if item.Status == domain.StatusValidated {
			r.validated = append(r.validated, rec.ID)
		}
		if r.obs != nil {
			r.obs.OnItemDone(idx, total, rec.ID, item, time.Since(one))
		}
	}
	r.phase(PhaseAcquire, map[string]any{"attempted": idx, "total": total}, time.Since(started))
}

func (r *runner) persist(catalog *domain.Catalog) {
	started := time.Now()
	opts := catalogcsv.Options{Acquire: r.eff.Acquire}
	path := r.layout.CatalogPath()

	if !r.eff.Apply {
		// dry-run：只计算会写出的行数；校验通过的记录按已提交计。
		projected := catalog.Clone()
		for _, id := range r.validated {
			if rec, ok := projected.Get(id); ok {
				rec.State = domain.StateCommitted
			}
		}
		_, n, err := catalogcsv.Encode(projected, opts)
		if err != nil {
			r.fail(domain.ErrCodePersistFailed, "", fmt.Sprintf("编码目录表失败：%v", err))
			return
		}
		r.rr.Counters.Persisted = n
		r.phase(PhasePersist, map[string]any{"rows": n, "path": path, "written": false}, time.Since(started))
		return
	}

	n, err := catalogcsv.Persist(path, catalog, opts)
	if err != nil {
		r.log.Error("持久化失败", "path", path, "error", err)
		r.fail(domain.ErrCodePersistFailed, "", err.Error())
		return
	}
	r.rr.Counters.Persisted = n
	if n == 0 {
		r.log.Info("没有可写出的记录，保留旧目录表", "path", path)
	} else {
		r.log.Info("目录表已写出", "path", path, "rows", n)
	}
	r.phase(PhasePersist, map[string]any{"rows": n, "path": path, "written": n > 0}, time.Since(started))
}

func (r *runner) phase(name string, fields map[string]any, dur time.Duration) {
	if r.obs != nil {
		r.obs.OnPhaseDone(name, fields, dur)
	}
}

// fail 追加一条合成的失败条目（id 为空，排在 report 末尾）。
func (r *runner) fail(code, genre, msg string) {
	r.log.Error(msg, "error_code", code)
	r.rr.Items = append(r.rr.Items, domain.ItemResult{
		Genre:     genre,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	})
}

// tagLabel 把 tags 映射为类别名，便于在 report 中阅读；不在本次配置中的代码原样输出。
func (r *runner) tagLabel(tags domain.TagSet) string {
	codes := tags.Sorted()
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		if n, ok := r.names[c]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, strconv.Itoa(c))
		}
	}
	return strings.Join(parts, ",")
}

func genreNames(gs []domain.Genre) map[int]string {
	out := make(map[int]string, len(gs))
	for _, g := range gs {
		out[g.Code] = g.Name
	}
	return out
}

// classifyObserveError 把观测错误映射为 error_code + 可操作的提示。
func classifyObserveError(err error) (string, string) {
	code := domain.ErrCodeFetchFailed
	if provider.StageOf(err) == provider.StageParse {
		code = domain.ErrCodeParseFailed
	}
	return code, humanizeObserveError(err)
}

func humanizeObserveError(err error) string {
	var be *provider.BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("IMDb 返回了拦截页（%s）。建议配置 proxy.url 或稍后重试。", be.Reason)
	}

	var hs *provider.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("IMDb 返回 HTTP %d（可能触发反爬/限流）。建议降低 expand 或配置 proxy.url。", hs.StatusCode)
		case 404:
			return "IMDb 返回 HTTP 404（类别名称可能有误）。"
		default:
			return fmt.Sprintf("IMDb 返回 HTTP %d。", hs.StatusCode)
		}
	}

	if provider.StageOf(err) == provider.StageParse {
		return fmt.Sprintf("IMDb 列表页解析失败（页面结构可能变化）：%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "IMDb 抓取超时。建议检查网络/代理后重试。"
	}
	return fmt.Sprintf("IMDb 抓取失败：%v", err)
}
