package imdbid

import (
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/genrecat/internal/domain"
)

// 详情页链接形如 /title/tt0068646/?ref_=sr_t_1；绝对/相对 URL 都接受。
var titleRE = regexp.MustCompile(`/title/(tt[0-9]+)/`)

type UnresolvedError struct {
	// Kind: "no_match" 或 "ambiguous"
	Kind string
	// Candidates 仅在 ambiguous 时返回（已排序，保证稳定）。
	Candidates []domain.ID
}

func (e *UnresolvedError) Error() string {
	switch e.Kind {
	case "no_match":
		return "无法从链接解析出 IMDb ID"
	case "ambiguous":
		parts := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			parts = append(parts, string(c))
		}
		return "链接中包含多个不同 ID（ambiguous）：" + strings.Join(parts, ", ")
	default:
		return "unresolved"
	}
}

// Extract 从详情页链接中提取唯一 ID。
// 若提取失败，返回 *UnresolvedError（no_match / ambiguous）。
func Extract(href string) (domain.ID, error) {
	m := map[domain.ID]struct{}{}

	for _, sm := range titleRE.FindAllStringSubmatch(strings.TrimSpace(href), -1) {
		if id, ok := domain.ParseID(sm[1]); ok {
			m[id] = struct{}{}
		}
	}

	if len(m) == 0 {
		return "", &UnresolvedError{Kind: "no_match"}
	}
	if len(m) > 1 {
		cands := make([]domain.ID, 0, len(m))
		for c := range m {
			cands = append(cands, c)
		}
		sort.Slice(cands, func(i, j int) bool { return string(cands[i]) < string(cands[j]) })
		return "", &UnresolvedError{Kind: "ambiguous", Candidates: cands}
	}
	for c := range m {
		return c, nil
	}
	return "", &UnresolvedError{Kind: "no_match"}
}
