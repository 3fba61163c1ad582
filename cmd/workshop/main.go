package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// IncidentFlags holds flags for the incidents command.
type IncidentFlags struct {
	App   string
	Limit int
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	c := &command{global: global}

	root.AddCommand(
		createServeCommand(global),
		c.servicesCommand(),
		c.serviceCommand(),
		c.startCommand(),
		c.stopCommand(),
		c.restartCommand(),
		c.healthCommand(),
		c.groupCommand(),
		c.incidentsCommand(&IncidentFlags{}),
		c.annotateCommand(),
		c.briefingCommand(),
		c.healingCommand(),
		c.reloadCommand(),
		c.statusCommand(),
		createTemplateCommand(&TemplateFlags{}),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "workshop",
		Short: "Local service supervisor with self-healing",
		Long: `Workshop keeps a registry of local services running: it starts them
with their dependencies, probes their health, heals them in escalating
tiers and keeps an incident log of everything it did.

Examples:
  workshop serve --config workshop.toml    # Start the daemon
  workshop services                        # List services
  workshop start api                       # Start a service and its dependencies
  workshop incidents --app api --limit 10  # Recent incidents of one service`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API base URL (default http://127.0.0.1:5003/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the workshop version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
