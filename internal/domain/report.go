package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusCommitted = "committed"
	StatusSkipped   = "skipped"
	StatusValidated = "validated"
	StatusDiscarded = "discarded"
	StatusFailed    = "failed"
)

const (
	ErrCodeUnresolvedID       = "unresolved_id"
	ErrCodeFetchFailed        = "fetch_failed"
	ErrCodeParseFailed        = "parse_failed"
	ErrCodeNoPoster           = "no_poster"
	ErrCodeNoTrailer          = "no_trailer"
	ErrCodePosterUnreachable  = "poster_unreachable"
	ErrCodeTrailerUnreachable = "trailer_unreachable"
	ErrCodeAudioFetchFailed   = "audio_fetch_failed"
	ErrCodePosterFetchFailed  = "poster_fetch_failed"
	ErrCodeIOFailed           = "io_failed"
	ErrCodeLockFailed         = "lock_failed"
	ErrCodePersistFailed      = "persist_failed"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID   string `json:"run_id"`
	DataDir string `json:"data_dir"`
	DryRun  bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Counters 由各阶段直接写入（与 item 无一一对应关系的统计）。
	Counters PhaseCounters `json:"-"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

// PhaseCounters 是阶段级统计：观测/合并/对账/持久化。
type PhaseCounters struct {
	Observed       int
	Inserted       int
	Collisions     int
	OrphansRemoved int
	Persisted      int
}

type ReportSummary struct {
	Observed       int `json:"observed"`
	Discarded      int `json:"discarded"`
	Inserted       int `json:"inserted"`
	Collisions     int `json:"collisions"`
	Committed      int `json:"committed"`
	Skipped        int `json:"skipped"`
	Validated      int `json:"validated"`
	Failed         int `json:"failed"`
	Persisted      int `json:"persisted"`
	OrphansRemoved int `json:"orphans_removed"`
}

type ItemResult struct {
	ID    string `json:"id"`
	Genre string `json:"genre"`

	Status    string `json:"status"`
	Stage     string `json:"stage"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 id 字典序；id=="" 的条目排在最后
// 3) summary 由 items + 阶段计数计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].ID
		b := r.Items[j].ID
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	s := ReportSummary{
		Observed:       r.Counters.Observed,
		Inserted:       r.Counters.Inserted,
		Collisions:     r.Counters.Collisions,
		Persisted:      r.Counters.Persisted,
		OrphansRemoved: r.Counters.OrphansRemoved,
	}
	for _, it := range r.Items {
		switch it.Status {
		case StatusCommitted:
			s.Committed++
		case StatusSkipped:
			s.Skipped++
		case StatusValidated:
			s.Validated++
		case StatusDiscarded:
			s.Discarded++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 集中约束输出稳定性：items 为 nil 时也输出 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	return json.Marshal(a)
}
