package domain

import (
	"regexp"
	"strings"
)

// ID 是条目的唯一主键（IMDb 标识，形如 tt0068646）。
//
// 约束：一经分配不可变；要么解析出唯一 ID，要么丢弃该观测，不允许猜。
type ID string

var idRE = regexp.MustCompile(`^tt[0-9]+$`)

// ParseID 校验并解析规范化后的 ID 字符串。
func ParseID(s string) (ID, bool) {
	s = strings.TrimSpace(s)
	if !idRE.MatchString(s) {
		return "", false
	}
	return ID(s), true
}
