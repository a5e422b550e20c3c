package domain

// Observation 是某个类别批次中对一个条目的原始、未校验的观测。
// 字段保持原文；规范化由 app.Normalize 完成。
type Observation struct {
	Tag      int
	Position int // 在该类别结果中的序号（从 1 开始）

	TitleLine   string // 例如 "1. The Godfather"
	RuntimeText string // 例如 "2h 55m"
	ScoreText   string // 例如 "9.2"
	VotesText   string // 例如 " (2.1M)"

	Href      string // 详情页链接（原文）
	ID        ID     // 解析失败时为空
	PosterURL string
}
