package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudchase/hydrus-nodes/tags"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/spf13/cobra"
)

var (
	exportHash  string
	exportTag   string
	exportFile  string
	exportOut   string
	exportForce bool
	exportJSON  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an image and its generation metadata",
	Long: `Fetch one file from the store and decode its generation metadata tags.

The file is selected by exactly one of --hash, --tag (first match) or --file
(a local copy whose SHA-256 identifies it). With --out the image is written to
disk; the metadata is always printed.`,
	Example: `  hyd export --hash 3f2a... --out original.png
  hyd export --tag tobeupscaled --json`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportHash, "hash", "", "File hash")
	exportCmd.Flags().StringVar(&exportTag, "tag", "", "Export the first file carrying this tag")
	exportCmd.Flags().StringVar(&exportFile, "file", "", "Local file identifying the stored file")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write the image to this path")
	exportCmd.Flags().BoolVar(&exportForce, "force", false, "Overwrite --out if it exists")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "Print metadata as JSON")
	exportCmd.MarkFlagsMutuallyExclusive("hash", "tag", "file")
	exportCmd.MarkFlagsOneRequired("hash", "tag", "file")
}

func runExport(cmd *cobra.Command, _ []string) error {
	if exportOut != "" && !exportForce && fileExists(exportOut) {
		return fmt.Errorf("%s already exists, use --force to overwrite", exportOut)
	}
	client, err := storeClient()
	if err != nil {
		return err
	}
	exp := workflow.NewExporter(client, settings.Store.TagService, nil)

	res, err := exp.Export(cmd.Context(), workflow.Selector{Hash: exportHash, Tag: exportTag, Path: exportFile})
	if err != nil {
		return err
	}

	if exportOut != "" {
		if err := os.WriteFile(exportOut, res.Data, 0644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if exportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Hash   string `json:"hash"`
			Format string `json:"format"`
			tags.Record
		}{res.Hash, res.Format, res.Metadata})
	}
	b := res.Image.Bounds()
	fmt.Fprintf(out, "Hash:          %s\n", res.Hash)
	fmt.Fprintf(out, "Image:         %s %dx%d, %s\n", res.Format, b.Dx(), b.Dy(), formatSize(int64(len(res.Data))))
	printRecord(out, res.Metadata)
	if exportOut != "" {
		fmt.Fprintf(out, "Written to:    %s\n", exportOut)
	}
	return nil
}

func printRecord(w io.Writer, r tags.Record) {
	for _, f := range []struct{ label, value string }{
		{"Model", r.ModelName},
		{"Seed", r.Seed},
		{"Positive", r.Positive},
		{"Negative", r.Negative},
		{"Loras", strings.Join(r.Loras, ", ")},
	} {
		if f.value != "" {
			fmt.Fprintf(w, "%-14s %s\n", f.label+":", f.value)
		}
	}
}
