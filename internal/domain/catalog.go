package domain

import "fmt"

// Catalog 是 ID -> 记录 的有序映射。
// 顺序为首次插入顺序：旧表格在前，新观测在后。
type Catalog struct {
	byID  map[ID]*MovieRecord
	order []ID
}

func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[ID]*MovieRecord, 128)}
}

func (c *Catalog) Len() int { return len(c.order) }

// Get 返回记录指针；调用方可以原地修改（合并、状态迁移）。
func (c *Catalog) Get(id ID) (*MovieRecord, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Put 插入新记录；ID 已存在时报错（更新请走 Get + 原地修改）。
func (c *Catalog) Put(r MovieRecord) error {
	if r.ID == "" {
		return fmt.Errorf("记录缺少 ID")
	}
	if _, ok := c.byID[r.ID]; ok {
		return fmt.Errorf("重复的 ID：%q", r.ID)
	}
	rec := r
	c.byID[r.ID] = &rec
	c.order = append(c.order, r.ID)
	return nil
}

// IDs 按插入顺序返回所有 ID（副本）。
func (c *Catalog) IDs() []ID {
	return append([]ID(nil), c.order...)
}

// Records 按插入顺序返回记录指针。
func (c *Catalog) Records() []*MovieRecord {
	out := make([]*MovieRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Clone 深拷贝整个目录。
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		byID:  make(map[ID]*MovieRecord, len(c.byID)),
		order: append([]ID(nil), c.order...),
	}
	for id, r := range c.byID {
		cp := r.Clone()
		out.byID[id] = &cp
	}
	return out
}
