// File: cmd/plan.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/restfuzz/internal/dependencies"
	"github.com/xkilldash9x/restfuzz/internal/grammar"
	"github.com/xkilldash9x/restfuzz/internal/observability"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// planView is the serializable form of a dependency plan.
type planView struct {
	Order   []planStep   `yaml:"order"`
	Cycles  [][]string   `yaml:"cycles,omitempty"`
	Blocked []blockedRow `yaml:"blocked,omitempty"`
}

type planStep struct {
	Request   string   `yaml:"request"`
	Producers []string `yaml:"producers,omitempty"`
}

type blockedRow struct {
	Request string   `yaml:"request"`
	Cycle   []string `yaml:"cycle"`
}

func keyStrings(keys []requests.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func newPlanView(res *dependencies.Resolver) planView {
	plan := res.Plan()
	g := res.Graph()
	var view planView
	for _, k := range plan.Order {
		view.Order = append(view.Order, planStep{Request: string(k), Producers: keyStrings(g.Producers(k))})
	}
	for _, cycle := range plan.Cycles {
		view.Cycles = append(view.Cycles, keyStrings(cycle.Members))
	}
	for _, b := range plan.Blocked {
		view.Blocked = append(view.Blocked, blockedRow{Request: string(b.Key), Cycle: keyStrings(b.Cause.Members)})
	}
	return view
}

// newPlanCmd prints the execution order the dependency graph yields.
func newPlanCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the dependency order, cycles and blocked requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			c, err := loadCollection(cfg)
			if err != nil {
				return err
			}
			res, err := dependencies.NewResolver(c, observability.GetLogger())
			if err != nil {
				return err
			}
			view := newPlanView(res)
			out := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(view); err != nil {
					return err
				}
				return enc.Close()
			case "text":
				for i, step := range view.Order {
					line := fmt.Sprintf("%3d. %s", i+1, step.Request)
					if len(step.Producers) > 0 {
						line += "  <- " + strings.Join(step.Producers, ", ")
					}
					fmt.Fprintln(out, line)
				}
				for _, cycle := range view.Cycles {
					fmt.Fprintf(out, "cycle: %s\n", strings.Join(cycle, " <-> "))
				}
				for _, b := range view.Blocked {
					fmt.Fprintf(out, "blocked: %s (cycle among %s)\n", b.Request, strings.Join(b.Cycle, ", "))
				}
				return nil
			default:
				return fmt.Errorf("unsupported format %q, use text or yaml", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or yaml")
	return cmd
}

// newExportCmd writes the loaded grammar in the on-disk YAML format.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the active grammar as YAML",
		Long:  "Export prints the active grammar, by default the built-in package registry, in the format --grammar accepts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			c, err := loadCollection(cfg)
			if err != nil {
				return err
			}
			return grammar.WriteYAML(cmd.OutOrStdout(), c)
		},
	}
}
