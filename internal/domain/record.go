package domain

import (
	"fmt"
	"strings"
)

// ResourceState 是随记录一起持久化的资源状态（不再靠“磁盘上是否有文件”反推）。
type ResourceState string

const (
	StateNotAttempted ResourceState = "not_attempted"
	StateSkipped      ResourceState = "skipped"
	StateCommitted    ResourceState = "committed"
)

// ParseResourceState 解析表格中的 resource_state 列。
// 空串视为 not_attempted（旧版表格没有该列）。
func ParseResourceState(s string) (ResourceState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StateNotAttempted):
		return StateNotAttempted, nil
	case string(StateSkipped):
		return StateSkipped, nil
	case string(StateCommitted):
		return StateCommitted, nil
	default:
		return "", fmt.Errorf("未知 resource_state：%q", s)
	}
}

// Origin 标记记录来源；不落盘，仅供持久化过滤使用。
type Origin int

const (
	// OriginObserved 表示本次运行新观测到并插入的记录。
	OriginObserved Origin = iota
	// OriginLoaded 表示来自上一次持久化的表格。
	OriginLoaded
)

// MovieRecord 是目录中每个 ID 唯一的一条记录。
//
// 不变量：
// - Tags 在记录存在时非空
// - State=committed 当且仅当 audios/<id>.opus 与 posters/<id>.jpg 同时存在
// - 标量字段“先写者胜”：合并时只并 Tags，不覆盖其它字段
type MovieRecord struct {
	ID ID

	Title          Opt[string]
	RuntimeMinutes Opt[int]
	Score          Opt[float64]
	VoteCount      Opt[int]

	Tags      TagSet
	PosterURI Opt[string]

	State  ResourceState
	Origin Origin
}

// Clone 深拷贝（Tags 是 map，必须单独复制）。
func (r MovieRecord) Clone() MovieRecord {
	out := r
	out.Tags = r.Tags.Clone()
	return out
}
