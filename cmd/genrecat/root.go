package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// errRunFailed 表示运行已结束且 report 已输出，但存在失败条目（退出码 1）。
var errRunFailed = errors.New("run failed")

// cli 持有进程级的输入输出，便于在测试中替换。
type cli struct {
	stdout io.Writer
	stderr io.Writer
	getwd  func() (string, error)
	isTTY  func(w io.Writer) bool
}

func newCLI() *cli {
	return &cli{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getwd:  os.Getwd,
		isTTY:  isTerminal,
	}
}

// execute 运行命令并返回退出码：0 成功，1 运行有失败，2 参数错误。
func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errRunFailed):
		return 1
	default:
		fmt.Fprintf(c.stderr, "参数错误：%v\n", err)
		return 2
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "genrecat",
		Short:         "按类别增量维护 IMDb 电影目录（预告片音轨 + 海报）",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(c.runCommand())
	return root
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
