// Package field 把页面上的原始文本片段规范化为类型化的值。
//
// 三个函数都是纯函数且是全函数：任何畸形输入都返回 None，从不 panic。
package field

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
)

var (
	hoursRE   = regexp.MustCompile(`(\d+)h`)
	minutesRE = regexp.MustCompile(`(\d+)m`)
	votesJunk = regexp.MustCompile(`[(),\s]`)
	decimalRE = regexp.MustCompile(`^(?:\d+\.?\d*|\.\d+)$`)
	digitsRE  = regexp.MustCompile(`^\d+$`)
)

// 分量上限：超过即视为畸形输入，避免乘法溢出。
const (
	maxRuntimeHours   = 10000
	maxRuntimeMinutes = maxRuntimeHours * 60
)

// ParseRuntime 把 "1h 40m" / "45m" / "2h" 转为总分钟数。
// 两个分量都缺失或结果为 0 时返回 None。
func ParseRuntime(text string) domain.Opt[int] {
	total := 0
	if m := hoursRE.FindStringSubmatch(text); m != nil {
		h, err := strconv.Atoi(m[1])
		if err != nil || h > maxRuntimeHours {
			return domain.None[int]()
		}
		total += h * 60
	}
	if m := minutesRE.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > maxRuntimeMinutes {
			return domain.None[int]()
		}
		total += n
	}
	if total <= 0 {
		return domain.None[int]()
	}
	return domain.Some(total)
}

// ParseVoteCount 把 "(1.9M)" / "24K" / "1,234" 转为票数。
// K/M 后缀作用于前面的十进制数；结果四舍五入到整数。
func ParseVoteCount(text string) domain.Opt[int] {
	s := votesJunk.ReplaceAllString(text, "")
	if s == "" {
		return domain.None[int]()
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult = 1e3
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult = 1e6
		s = s[:len(s)-1]
	}

	if mult == 1 {
		if !digitsRE.MatchString(s) {
			return domain.None[int]()
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return domain.None[int]()
		}
		return domain.Some(n)
	}

	if !decimalRE.MatchString(s) {
		return domain.None[int]()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return domain.None[int]()
	}
	v := math.Round(f * mult)
	if v > 1e15 {
		return domain.None[int]()
	}
	return domain.Some(int(v))
}

// ParseScore 只接受非负十进制数（最多一个小数点），范围 [0, 10]。
func ParseScore(text string) domain.Opt[float64] {
	s := strings.TrimSpace(text)
	if !decimalRE.MatchString(s) {
		return domain.None[float64]()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f > 10 {
		return domain.None[float64]()
	}
	return domain.Some(f)
}
