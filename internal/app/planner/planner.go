package planner

import (
	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
)

// ReadArtifacts 读取某个 ID 的两个产物现状（只做 stat，不读文件内容）。
// 目录不存在视为两个产物都不存在。
func ReadArtifacts(l domain.Layout, id domain.ID) (domain.ArtifactState, error) {
	hasAudio, err := fsx.Exists(l.AudioPath(id))
	if err != nil {
		return domain.ArtifactState{}, err
	}
	hasPoster, err := fsx.Exists(l.PosterPath(id))
	if err != nil {
		return domain.ArtifactState{}, err
	}
	return domain.ArtifactState{HasAudio: hasAudio, HasPoster: hasPoster}, nil
}

// Plan 是单条记录的资源获取计划（不做任何写入）。
type Plan struct {
	ID        domain.ID
	Artifacts domain.ArtifactState

	// NeedAcquire=false 只出现在“已提交且两个产物都在”的记录上。
	NeedAcquire bool
	// Drift=true 表示表格记为 committed，但磁盘上的产物不全（被外部删除）。
	// 执行前应把记录降级为 not_attempted。
	Drift bool
}

// PlanRecord 基于记录状态 + 磁盘现状生成确定性的计划。
func PlanRecord(rec domain.MovieRecord, st domain.ArtifactState) Plan {
	p := Plan{ID: rec.ID, Artifacts: st}
	switch {
	case rec.State == domain.StateCommitted && st.Both():
		p.NeedAcquire = false
	case rec.State == domain.StateCommitted:
		p.Drift = true
		p.NeedAcquire = true
	default:
		// skipped 的旧记录也重新尝试：上一轮的失败不代表这一轮仍会失败。
		p.NeedAcquire = true
	}
	return p
}

// Apply 把计划中的状态修正写回记录（目前只有漂移降级）。
func Apply(rec *domain.MovieRecord, p Plan) {
	if rec == nil || rec.ID != p.ID {
		return
	}
	if p.Drift {
		rec.State = domain.StateNotAttempted
	}
}

// PlanCatalog 按目录顺序为每条记录生成计划。
func PlanCatalog(l domain.Layout, c *domain.Catalog) ([]Plan, error) {
	if c == nil {
		return nil, nil
	}
	plans := make([]Plan, 0, c.Len())
	for _, id := range c.IDs() {
		rec, ok := c.Get(id)
		if !ok {
			continue
		}
		st, err := ReadArtifacts(l, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, PlanRecord(*rec, st))
	}
	return plans, nil
}
