package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/workshop/pkg/client"
)

// command binds the client subcommands to the global flags.
type command struct {
	global *GlobalFlags
}

func (c *command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.global.APIUrl, Timeout: c.global.APITimeout})
}

// call runs fn against the daemon and prints its JSON result.
func call[T any](c *command, cmd *cobra.Command, fn func(context.Context, *client.Client) (T, error)) error {
	res, err := fn(cmd.Context(), c.client())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

// noArgs adapts a client method without arguments.
func noArgs[T any](m func(*client.Client, context.Context) (T, error)) func(context.Context, *client.Client) (T, error) {
	return func(ctx context.Context, api *client.Client) (T, error) { return m(api, ctx) }
}

func (c *command) servicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List every registered service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(c, cmd, noArgs((*client.Client).Services))
		},
	}
}

func (c *command) serviceCommand() *cobra.Command {
	return byID(c, "service <id>", "Show one service", (*client.Client).Service)
}

func (c *command) startCommand() *cobra.Command {
	return byID(c, "start <id>", "Start a service and its stopped dependencies", (*client.Client).Start)
}

func (c *command) stopCommand() *cobra.Command {
	return byID(c, "stop <id>", "Stop a service", (*client.Client).Stop)
}

func (c *command) restartCommand() *cobra.Command {
	return byID(c, "restart <id>", "Restart a service", (*client.Client).Restart)
}

func (c *command) healthCommand() *cobra.Command {
	return byID(c, "health <id>", "Probe a service now", (*client.Client).Health)
}

func byID[T any](c *command, use, short string, m func(*client.Client, context.Context, string) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(c, cmd, func(ctx context.Context, api *client.Client) (T, error) { return m(api, ctx, args[0]) })
		},
	}
}

func (c *command) groupCommand() *cobra.Command {
	group := &cobra.Command{
		Use:   "group",
		Short: "Start or stop every service of a group",
	}
	group.AddCommand(
		byID(c, "start <group>", "Start every service in a group", (*client.Client).GroupStart),
		byID(c, "stop <group>", "Stop every service in a group", (*client.Client).GroupStop),
	)
	return group
}

func (c *command) incidentsCommand(flags *IncidentFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List recent incidents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.Limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return call(c, cmd, func(ctx context.Context, api *client.Client) ([]client.Incident, error) {
				return api.Incidents(ctx, client.IncidentQuery{App: flags.App, Limit: flags.Limit})
			})
		},
	}
	cmd.Flags().StringVar(&flags.App, "app", "", "only incidents of this service")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "maximum number of incidents (daemon default when 0)")
	return cmd
}

func (c *command) annotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <incident-id> <note...>",
		Short: "Attach a note to an incident",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			note := strings.Join(args[1:], " ")
			return call(c, cmd, func(ctx context.Context, api *client.Client) (*client.AnnotateResult, error) {
				return api.Annotate(ctx, args[0], note)
			})
		},
	}
}

func (c *command) briefingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "briefing",
		Short: "Show the daily briefing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(c, cmd, noArgs((*client.Client).Briefing))
		},
	}
}

func (c *command) healingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healing",
		Short: "List active self-healing sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(c, cmd, noArgs((*client.Client).Healing))
		},
	}
}

func (c *command) reloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(c, cmd, noArgs((*client.Client).Reload))
		},
	}
}

func (c *command) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.client().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("workshop daemon not reachable at %s: %w", c.client().BaseURL(), err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
