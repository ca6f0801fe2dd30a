package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	nodesOutput string
	nodesDump   string
)

var nodesCmd = &cobra.Command{
	Use:     "nodes",
	Aliases: []string{"ls"},
	Short:   "List the provided nodes",
	Long: `List the nodes this module registers with the host, with their inputs and
outputs. --dump writes one JSON manifest per node into a directory.`,
	RunE: runNodes,
}

func init() {
	nodesCmd.Flags().StringVarP(&nodesOutput, "output", "o", "table", "Output format: table, json or yaml")
	nodesCmd.Flags().StringVar(&nodesDump, "dump", "", "Write JSON manifests into this directory")
}

func runNodes(cmd *cobra.Command, _ []string) error {
	reg := registry.Default()
	out := cmd.OutOrStdout()

	if nodesDump != "" {
		n, err := reg.Dump(nodesDump)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %d manifests to %s\n", n, nodesDump)
		return nil
	}

	nodes := reg.List()
	switch nodesOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(nodes); err != nil {
			return err
		}
		return enc.Close()
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", nodesOutput)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tINPUTS\tOUTPUTS\tOUTPUT NODE")
	for _, m := range nodes {
		outputs := make([]string, 0, len(m.Outputs))
		for _, o := range m.Outputs {
			outputs = append(outputs, o.Name)
		}
		outs := strings.Join(outputs, ",")
		if outs == "" {
			outs = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", m.DisplayName, m.Category, inputSummary(m.Inputs), outs, m.OutputNode)
	}
	return w.Flush()
}

// inputSummary lists required inputs as-is and optional ones with a "?" suffix.
func inputSummary(in registry.Inputs) string {
	parts := make([]string, 0, len(in.Required)+len(in.Optional))
	for _, i := range in.Required {
		parts = append(parts, i.Name)
	}
	for _, i := range in.Optional {
		parts = append(parts, i.Name+"?")
	}
	return strings.Join(parts, ",")
}
