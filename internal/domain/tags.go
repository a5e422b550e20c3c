package domain

import "sort"

// TagSet 是类别代码集合。只增不减：没有删除操作。
type TagSet map[int]struct{}

func NewTagSet(codes ...int) TagSet {
	s := make(TagSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s TagSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

func (s TagSet) Len() int { return len(s) }

// Add 加入一个代码，返回是否为新增。
func (s TagSet) Add(code int) bool {
	if _, ok := s[code]; ok {
		return false
	}
	s[code] = struct{}{}
	return true
}

// Union 把 other 并入 s（原地），返回新增的代码个数。
func (s TagSet) Union(other TagSet) int {
	added := 0
	for c := range other {
		if s.Add(c) {
			added++
		}
	}
	return added
}

// Sorted 返回升序代码列表（序列化与测试需要稳定顺序）。
func (s TagSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Equal 按集合语义比较（忽略顺序）。
func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if !other.Has(c) {
			return false
		}
	}
	return true
}
