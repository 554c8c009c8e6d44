package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// usageError 标记参数错误，对应退出码 2。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行 CLI 并返回退出码，方便测试：0 成功，1 运行失败，2 参数错误。
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// cliOptions 汇总全局标志，子命令共享。
type cliOptions struct {
	configFlag string
}

// configPath 按 --config → TILECACHE_CONFIG → config.toml 的顺序解析配置路径。
func (o *cliOptions) configPath() string {
	if o.configFlag != "" {
		return o.configFlag
	}
	if env := os.Getenv("TILECACHE_CONFIG"); env != "" {
		return env
	}
	return "config.toml"
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "tilecache",
		Short:         "Transparent HTTP tile cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TILECACHE_CONFIG 覆盖）")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		newServeCmd(opts),
		newPreloadCmd(opts),
		newClearCmd(opts),
		newStatusCmd(opts),
		newCheckConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// exactArgs 包装 cobra.ExactArgs，使参数个数错误映射为 usageError。
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}
