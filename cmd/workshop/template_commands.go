package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/workshop/pkg/template"
)

// TemplateFlags holds flags for the template command.
type TemplateFlags struct {
	Port  int
	Group string
	Deps  []string
}

func createTemplateCommand(flags *TemplateFlags) *cobra.Command {
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "template <type> <id>",
		Short: "Print a registry entry for a new service",
		Long: fmt.Sprintf(`Print a starter registry entry as YAML.

Supported types: %s

Examples:
  workshop template api users --port 5105 --deps db >> registry.yaml`, strings.Join(gen.GetSupportedTypes(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := gen.GenerateYAML(template.TemplateType(args[0]), args[1], template.Options{
				Port:         flags.Port,
				Group:        flags.Group,
				Dependencies: flags.Deps,
			})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "override the service port")
	cmd.Flags().StringVar(&flags.Group, "group", "", "override the service group")
	cmd.Flags().StringSliceVar(&flags.Deps, "deps", nil, "comma-separated dependency ids")
	return cmd
}
