package cmd

import (
	"fmt"

	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <hash>",
	Short: "Show file information",
	Long:  "Display store metadata and decoded generation metadata for a file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	hash := args[0]

	client, err := storeClient()
	if err != nil {
		return err
	}

	meta, err := client.FileMetadataByHashes(cmd.Context(), []string{hash})
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	if len(meta) == 0 || !meta[0].Known() {
		return fmt.Errorf("file '%s' not found", hash)
	}
	m := meta[0]

	record, err := workflow.NewExporter(client, settings.Store.TagService, nil).Metadata(cmd.Context(), hash)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hash:          %s\n", m.Hash)
	fmt.Fprintf(out, "File ID:       %d\n", *m.FileID)
	if m.Mime != "" {
		fmt.Fprintf(out, "Mime:          %s\n", m.Mime)
	}
	if m.Width > 0 && m.Height > 0 {
		fmt.Fprintf(out, "Dimensions:    %dx%d\n", m.Width, m.Height)
	}
	fmt.Fprintf(out, "Size:          %s\n", formatSize(m.Size))
	printRecord(out, record)
	return nil
}
