package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/workshop"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the workshop daemon",
		Long: `Start the workshop daemon: registry, health loop, self-healing,
incident log and HTTP API. Every setting has a default and can be
overridden with WORKSHOP_* environment variables.

Examples:
  workshop serve
  workshop serve workshop.toml
  workshop serve --daemonize --pidfile /tmp/workshop.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if flags.Daemonize {
				return daemonize(flags.PidFile, flags.LogFile)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := runServe(ctx, path)
			_ = removePidFile(flags.PidFile)
			return err
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := workshop.LoadConfig(configPath)
	if err != nil {
		return err
	}
	w, err := workshop.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}
