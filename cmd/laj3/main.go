package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/laj3/laj3/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds state shared by the command tree of one invocation.
type app struct {
	v       *viper.Viper
	logFile io.Closer
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "laj3",
		Short:         "Ship only the files a client is missing",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(a.v, cmd); err != nil {
				return err
			}
			closer, err := setupLogging(cmd.ErrOrStderr(), a.v.GetString("log.level"), a.v.GetString("log.file"))
			if err != nil {
				return err
			}
			a.logFile = closer
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default ~/.laj3/config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-file", "", "also write logs to this file")

	root.AddCommand(
		a.dictCmd(),
		a.serverCmd(),
		a.installCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp()
	root := a.rootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		slog.Error("laj3", "error", err)
		root.PrintErrln(red.Render("Error:"), err)
	}
	a.close()

	if err != nil {
		os.Exit(1)
	}
}
