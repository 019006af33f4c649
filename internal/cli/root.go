package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version 构建时通过 ldflags 注入
var version = "dev"

// rootOptions 所有子命令共享的状态，由 PersistentPreRunE 填充
type rootOptions struct {
	ConfigFile string

	v      *viper.Viper
	cfg    *config.Config
	logger *logrus.Logger
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "libdetector",
		Short:         "Detect third-party library versions bundled in Android APKs",
		Version:       version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(opts.v, cmd); err != nil {
				return err
			}
			cfg, err := config.LoadWith(opts.v, opts.ConfigFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = config.InitLogger(&cfg.Log)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Config file path (yaml)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
	_ = opts.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = opts.v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(err.Error()).
			WithCause(err)
	})

	cmd.AddCommand(newScanCommand(opts))
	cmd.AddCommand(newCollectCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

// exitCodeForError 参数错误 2，路径不存在 3，其他错误 1
func exitCodeForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeNotFound:
		return 3
	default:
		return 1
	}
}

// bindFlags 把当前执行命令的参数绑定到配置键
//
// 子命令在 Annotations 中声明 参数名 -> 配置键，多个子命令可以绑定同一个配置键。
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range cmd.Annotations {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q bound to %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// invalidArgs 参数个数错误按参数错误处理
func invalidArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(err.Error()).
				WithCause(err)
		}
		return nil
	}
}
