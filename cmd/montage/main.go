package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/montagehq/montage/internal/cli"
	"github.com/montagehq/montage/internal/config"
	"github.com/montagehq/montage/pkg/log"
)

func main() {
	lvl := "info"
	if cfg, err := config.New(); err == nil {
		lvl = cfg.Service.LogLevel
	}
	logger := log.InitLog(log.LevelOrDefault(lvl))
	defer func() { _ = logger.Sync() }()

	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := NewMontageCtlCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func NewMontageCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "montage [flags] [options]",
		Short: "montage uploads footage and turns it into a montage.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdSubmit())
	cmd.AddCommand(cli.NewCmdInspect())
	cmd.AddCommand(cli.NewCmdStatus())
	cmd.AddCommand(cli.NewCmdDownload())
	cmd.AddCommand(cli.NewCmdConfig())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
