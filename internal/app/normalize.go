package app

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/field"
)

// DiscardError 表示观测无法成为记录（ID 无法解析）。非致命：记日志后继续。
type DiscardError struct {
	Tag      int
	Position int
	Href     string
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("丢弃观测 tag=%d pos=%d：无法解析 ID（href=%q）", e.Tag, e.Position, e.Href)
}

// Normalize 把一次观测构造成规范的 MovieRecord（Tags={obs.Tag}，状态 not_attempted）。
func Normalize(obs domain.Observation) (domain.MovieRecord, error) {
	id, ok := domain.ParseID(string(obs.ID))
	if !ok {
		return domain.MovieRecord{}, &DiscardError{Tag: obs.Tag, Position: obs.Position, Href: obs.Href}
	}

	rec := domain.MovieRecord{
		ID:             id,
		Title:          normalizeTitle(obs.TitleLine),
		RuntimeMinutes: field.ParseRuntime(obs.RuntimeText),
		Score:          field.ParseScore(obs.ScoreText),
		VoteCount:      field.ParseVoteCount(obs.VotesText),
		Tags:           domain.NewTagSet(obs.Tag),
		State:          domain.StateNotAttempted,
		Origin:         domain.OriginObserved,
	}
	if p := strings.TrimSpace(obs.PosterURL); p != "" {
		rec.PosterURI = domain.Some(p)
	}
	return rec, nil
}

// NormalizeBatch 对一批观测做 Normalize；无法解析的观测进入 discards，不中断批次。
func NormalizeBatch(obs []domain.Observation) (records []domain.MovieRecord, discards []*DiscardError) {
	records = make([]domain.MovieRecord, 0, len(obs))
	for _, o := range obs {
		r, err := Normalize(o)
		if err != nil {
			var de *DiscardError
			if errors.As(err, &de) {
				discards = append(discards, de)
			}
			continue
		}
		records = append(records, r)
	}
	return records, discards
}

// normalizeTitle 去掉 "<N>. " 序号前缀（只切第一个 ". "），并做 NFC + 空白折叠。
func normalizeTitle(line string) domain.Opt[string] {
	s := strings.TrimSpace(line)
	if head, rest, ok := strings.Cut(s, ". "); ok && isDigits(head) {
		s = rest
	}
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if s == "" {
		return domain.None[string]()
	}
	return domain.Some(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
