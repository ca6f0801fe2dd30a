package cmd

import (
	"fmt"

	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/spf13/cobra"
)

var dedupeWait string

var dedupeCmd = &cobra.Command{
	Use:   "dedupe <original-hash> <upscaled-hash>",
	Short: "Mark an upscaled file as a better duplicate of its original",
	Long: `Declare the second file a better duplicate of the first and let the store
merge content by its default rules. By default the command first polls until
the store has indexed both files.`,
	Args: cobra.ExactArgs(2),
	RunE: runDedupe,
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupeWait, "wait", "", "Wait mode before marking: poll, delay or none")
}

func runDedupe(cmd *cobra.Command, args []string) error {
	wait := settings.Dedupe.Wait
	if dedupeWait != "" {
		wait.Mode = dedupeWait
		s := *settings
		s.Dedupe.Wait = wait
		if err := s.Validate(); err != nil {
			return err
		}
	}
	client, err := storeClient()
	if err != nil {
		return err
	}

	d := workflow.NewDeduper(client, wait, nil)
	if err := d.MarkDuplicate(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as a better duplicate of %s\n", args[1], args[0])
	return nil
}
