package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/genrecat/internal/domain"
)

// maxProblemRows 限制终端里问题条目表的行数；完整列表见 report.json。
const maxProblemRows = 50

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	return fmt.Sprintf("完成：observed=%d inserted=%d committed=%d validated=%d skipped=%d failed=%d persisted=%d",
		s.Observed, s.Inserted, s.Committed, s.Validated, s.Skipped, s.Failed, s.Persisted,
	)
}

// renderSummary 以两列表格输出 summary 计数。
func renderSummary(rr domain.RunReport) string {
	s := rr.Summary
	mode := "dry-run"
	if !rr.DryRun {
		mode = "apply"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("genrecat " + mode)
	tw.AppendHeader(table.Row{"指标", "数量"})
	for _, kv := range []struct {
		k string
		v int
	}{
		{"observed", s.Observed},
		{"discarded", s.Discarded},
		{"inserted", s.Inserted},
		{"collisions", s.Collisions},
		{"committed", s.Committed},
		{"validated", s.Validated},
		{"skipped", s.Skipped},
		{"failed", s.Failed},
		{"persisted", s.Persisted},
		{"orphans_removed", s.OrphansRemoved},
	} {
		tw.AppendRow(table.Row{kv.k, kv.v})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// renderProblems 列出 skipped/failed 条目；没有时返回空串。
func renderProblems(rr domain.RunReport, max int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"id", "genre", "status", "stage", "error_code", "error_msg"})

	n, hidden := 0, 0
	for _, it := range rr.Items {
		if it.Status != domain.StatusFailed && it.Status != domain.StatusSkipped {
			continue
		}
		if max > 0 && n >= max {
			hidden++
			continue
		}
		id := it.ID
		if id == "" {
			id = "-"
		}
		tw.AppendRow(table.Row{id, it.Genre, it.Status, it.Stage, it.ErrorCode, truncate(it.ErrorMsg, 80)})
		n++
	}
	if n == 0 {
		return ""
	}
	if hidden > 0 {
		tw.AppendFooter(table.Row{"…", "", "", "", "", "另有 " + strconv.Itoa(hidden) + " 条未显示"})
	}
	return tw.Render()
}
