package cmd

import (
	"fmt"
	"log/slog"

	"github.com/cloudchase/hydrus-nodes/host"
	"github.com/spf13/cobra"
)

var (
	submitTag      string
	submitWorkflow string
	submitNode     string
	submitInput    string
	submitHost     string
	submitRate     float64
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a workflow for every file carrying a tag",
	Long: `Find all files carrying --tag and queue the workflow in --workflow on the host
once per file, with the file hash written into the inputs of --node.
Submissions are paced by host.rate.`,
	Example: `  hyd submit --tag tobeupscaledbeta --workflow upscale_workflow.json --node 59`,
	RunE:    runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitTag, "tag", "", "Tag selecting the files")
	f.StringVar(&submitWorkflow, "workflow", "", "Prompt graph in the host's API JSON format")
	f.StringVar(&submitNode, "node", "", "Id of the node receiving the hash")
	f.StringVar(&submitInput, "input", host.DefaultInput, "Input of --node receiving the hash")
	f.StringVar(&submitHost, "host", "", "Host URL (default from settings)")
	f.Float64Var(&submitRate, "rate", 0, "Prompts per second (default from settings)")
	for _, name := range []string{"tag", "workflow", "node"} {
		_ = submitCmd.MarkFlagRequired(name)
	}
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	prompt, err := host.LoadPrompt(submitWorkflow)
	if err != nil {
		return err
	}
	hostURL := settings.Host.URL
	if submitHost != "" {
		hostURL = submitHost
	}
	rate := settings.Host.Rate
	if submitRate > 0 {
		rate = submitRate
	}

	client, err := storeClient()
	if err != nil {
		return err
	}
	logger := slog.Default()
	hc := host.NewClient(hostURL, host.WithRate(rate), host.WithLogger(logger))
	s := host.NewSubmitter(client, hc, logger)

	done, err := s.Submit(cmd.Context(), host.Job{Tag: submitTag, Prompt: prompt, Node: submitNode, Input: submitInput})
	out := cmd.OutOrStdout()
	for _, d := range done {
		fmt.Fprintf(out, "%s\t%s\n", d.Hash, d.PromptID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Queued %s\n", pluralize(len(done), "prompt"))
	return nil
}
