package run

import (
	"time"

	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件按执行顺序在调用 Execute 的 goroutine 上同步发出；CLI 的 keepalive ticker 另起 goroutine，需自行加锁。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某条记录的资源获取结束时调用（用于每条结果的一行输出）。
	OnItemDone(idx, total int, id domain.ID, res domain.ItemResult, dur time.Duration)
}

// 阶段名（OnPhaseDone 的 name）。
const (
	PhaseLoad      = "load"
	PhaseReconcile = "reconcile"
	PhaseObserve   = "observe"
	PhasePlan      = "plan"
	PhaseAcquire   = "acquire"
	PhasePersist   = "persist"
)
