package domain

import (
	"sort"
	"strings"
)

// Genre 是一个类别代码与其在 IMDb 上的名称。
type Genre struct {
	Code int
	Name string
}

// DefaultGenres 是内置的 IMDb 类别表；CLI 只给代码时从这里查名称。
var DefaultGenres = map[int]string{
	0: "action", 1: "adventure", 2: "animation", 3: "biography", 4: "comedy",
	5: "crime", 6: "documentary", 7: "drama", 8: "family", 9: "fantasy",
	10: "film-noir", 11: "game-show", 12: "history", 13: "horror", 14: "music",
	15: "musical", 16: "mystery", 17: "news", 18: "reality-tv", 19: "romance",
	20: "sci-fi", 21: "sport", 22: "talk-show", 23: "thriller", 24: "war",
	25: "western",
}

// SortGenres 按代码升序（稳定的处理顺序与目录命名）。
func SortGenres(gs []Genre) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].Code < gs[j].Code })
}

// GenreNames 返回按代码排序后的名称列表。
func GenreNames(gs []Genre) []string {
	cp := append([]Genre(nil), gs...)
	SortGenres(cp)
	out := make([]string, 0, len(cp))
	for _, g := range cp {
		out = append(out, strings.TrimSpace(g.Name))
	}
	return out
}
