package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/genrecat/internal/app/run"
	"github.com/John-Robertt/genrecat/internal/config"
	"github.com/John-Robertt/genrecat/internal/domain"
	"github.com/John-Robertt/genrecat/internal/infra/fsx"
	"github.com/John-Robertt/genrecat/internal/logging"
)

// ReportFileName 是 apply 模式下写入 <data_dir>/cache/ 的 report 文件名。
const ReportFileName = "report.json"

type runFlags struct {
	config    string
	genres    []string
	expand    int
	catalog   string
	dataRoot  string
	apply     bool
	noAcquire bool
	logLevel  string
	logFormat string
}

func (c *cli) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "运行一次观测 -> 合并 -> 资源获取 -> 持久化（默认 dry-run）",
		Long: `运行一次完整流程。

默认 dry-run：观测、合并并校验资源可达性，不下载、不写任何文件。
--apply 才会下载预告片音轨与海报，并写出目录表与 report.json。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ca := config.CLIArgs{
				ConfigPath: f.config,
				DataRoot:   f.dataRoot,
				Catalog:    f.catalog,
				Genres:     f.genres,
				Expand:     f.expand,
				ExpandSet:  cmd.Flags().Changed("expand"),
				Apply:      f.apply,
				ApplySet:   cmd.Flags().Changed("apply"),
				NoAcquire:  f.noAcquire,
				LogLevel:   f.logLevel,
			}
			return c.runE(cmd, ca, f.logFormat)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件路径（默认读取当前目录下的 genrecat.toml，可选）")
	fl.StringSliceVarP(&f.genres, "genre", "g", nil, `类别：代码（如 5）或 代码=名称（如 5=crime）；可重复或逗号分隔`)
	fl.IntVar(&f.expand, "expand", config.DefaultExpand, "每个类别在首屏之外额外加载的页数（0-100）")
	fl.StringVar(&f.catalog, "catalog", "", "读取旧目录表的路径（默认 <data_dir>/"+domain.CatalogFileName+"）")
	fl.StringVar(&f.dataRoot, "data-root", "", "数据目录的父目录（默认当前目录）")
	fl.BoolVar(&f.apply, "apply", false, "下载资源并写入文件（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true")
	fl.BoolVar(&f.noAcquire, "no-acquire", false, "跳过资源获取，只维护目录表（不需要 TMDb token）")
	fl.StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "text", "日志格式：text|json（写到 stderr）")
	return cmd
}

func (c *cli) runE(cmd *cobra.Command, args config.CLIArgs, logFormat string) error {
	cwd, err := c.getwd()
	if err != nil {
		return fmt.Errorf("读取当前目录失败：%w", err)
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, args)
	if err != nil {
		c.emitReport(syntheticReport(cwdAbs, args.ApplySet && args.Apply, config.Code(err), err))
		return errRunFailed
	}

	logger, err := logging.New(logging.Options{Level: eff.LogLevel, Format: logFormat, Writer: c.stderr})
	if err != nil {
		return err
	}

	deps, err := run.NewDeps(eff, logger)
	if err != nil {
		c.emitReport(syntheticReport(eff.Layout().DataDir, eff.Apply, domain.ErrCodeConfigInvalid, err))
		return errRunFailed
	}

	progressW, interactive := c.pickProgressWriter()
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Stop()
		obs = ui
	}

	rr := run.ExecuteWithObserver(cmd.Context(), eff, deps, obs)

	// apply：必须写入 <data_dir>/cache/report.json；dry-run 禁止落盘。
	if eff.Apply {
		if err := writeReportFile(eff.Layout().CacheDir(), rr); err != nil {
			fmt.Fprintf(c.stderr, "写入 %s 失败：%v\n", ReportFileName, err)
			c.emitReport(rr)
			return errRunFailed
		}
	}

	c.emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Summary.Failed == 0 {
		return nil
	}
	return errRunFailed
}

// emitReport：stdout 是 TTY 时输出摘要表格；否则 stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
func (c *cli) emitReport(rr domain.RunReport) {
	if c.isTTY(c.stdout) {
		fmt.Fprintln(c.stdout, renderSummary(rr))
		if t := renderProblems(rr, maxProblemRows); t != "" {
			fmt.Fprintln(c.stderr, t)
		}
		return
	}

	enc := json.NewEncoder(c.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(c.stderr, summaryLine(rr))
}

func (c *cli) pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if c.isTTY(c.stderr) {
		return c.stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if c.isTTY(c.stdout) {
		return c.stdout, true
	}
	return nil, false
}

func syntheticReport(dataDir string, apply bool, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	rr := domain.RunReport{
		DataDir:    dataDir,
		DryRun:     !apply,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(cacheDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(cacheDir, ReportFileName, b)
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	// 这几行用于降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	l := eff.Layout()
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(l.CacheDir(), ReportFileName))
		fmt.Fprintf(w, "catalog: %s\n", l.CatalogPath())
	}
	fmt.Fprintf(w, "data: %s\n", l.DataDir)
}
