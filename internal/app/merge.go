package app

import (
	"github.com/John-Robertt/genrecat/internal/domain"
)

// MergeResult 汇总一次合并：新插入的 ID（按插入顺序）与碰撞计数。
type MergeResult struct {
	Inserted   []domain.ID
	Collisions int
	TagsAdded  int
}

// Merge 把一批新记录按 ID 合并进目录（原地修改 c）。
//
// - ID 已存在：只把 Tags 并入已有记录；其它字段先写者胜，不覆盖
// - ID 不存在：插入副本
// - 同一批次内的重复 ID 同样按碰撞处理（并 Tags）
//
// 同一批次重复合并只有第一次生效（幂等）；Tags 单调不减。
func Merge(c *domain.Catalog, incoming []domain.MovieRecord) MergeResult {
	var res MergeResult
	for i := range incoming {
		in := incoming[i]
		if in.ID == "" {
			continue
		}
		if cur, ok := c.Get(in.ID); ok {
			res.Collisions++
			if cur.Tags == nil {
				cur.Tags = domain.NewTagSet()
			}
			res.TagsAdded += cur.Tags.Union(in.Tags)
			continue
		}
		// Put 只会在 ID 重复时失败；上面已排除。
		_ = c.Put(in.Clone())
		res.Inserted = append(res.Inserted, in.ID)
	}
	return res
}
