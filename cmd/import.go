package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/cloudchase/hydrus-nodes/tags"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/spf13/cobra"
)

var (
	importRecord       tags.Record
	importTags         string
	importPromptFile   string
	importWorkflowFile string
)

var importCmd = &cobra.Command{
	Use:   "import <image>...",
	Short: "Import images with generation metadata tags",
	Long: `Re-encode each image as PNG, upload it to the store and tag it with the given
generation metadata. A failed image is reported and the rest still run.

--prompt-file and --workflow-file embed host graphs as PNG text chunks.`,
	Example: `  hyd import out_0001.png --positive "a lighthouse" --seed 1234 --lora detail_tweaker`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importRecord.Positive, "positive", "", "Positive prompt")
	f.StringVar(&importRecord.Negative, "negative", "", "Negative prompt")
	f.StringVar(&importRecord.ModelName, "modelname", "", "Model name")
	f.StringVar(&importRecord.Seed, "seed", "", "Seed")
	f.StringSliceVar(&importRecord.Loras, "lora", nil, "Lora name (repeatable)")
	f.StringVar(&importTags, "tags", registry.DefaultImportTags, "Comma separated extra tags")
	f.StringVar(&importPromptFile, "prompt-file", "", "JSON prompt graph to embed")
	f.StringVar(&importWorkflowFile, "workflow-file", "", "JSON workflow to embed")
}

func readJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func provenance() (*workflow.Provenance, error) {
	if importPromptFile == "" && importWorkflowFile == "" {
		return nil, nil
	}
	prov := &workflow.Provenance{}
	if importPromptFile != "" {
		v, err := readJSONFile(importPromptFile)
		if err != nil {
			return nil, err
		}
		prov.Prompt = v
	}
	if importWorkflowFile != "" {
		v, err := readJSONFile(importWorkflowFile)
		if err != nil {
			return nil, err
		}
		prov.Extra = map[string]any{"workflow": v}
	}
	return prov, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	images := make([]image.Image, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		img, _, err := imaging.Decode(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		images = append(images, img)
	}
	prov, err := provenance()
	if err != nil {
		return err
	}

	client, err := storeClient()
	if err != nil {
		return err
	}
	record := importRecord
	record.ExtraTags = tags.Split(importTags)
	imp := workflow.NewImporter(client, settings.Store.TagService, nil)

	outcomes, err := imp.Import(cmd.Context(), images, record, prov)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		if o.OK() {
			fmt.Fprintf(out, "%s\t%s\t%s\n", args[o.Index], o.Status, o.Hash)
			continue
		}
		failed++
		fmt.Fprintf(out, "%s\tfailed\t%v\n", args[o.Index], o.Err)
	}
	if last := workflow.LastHash(outcomes); last != "" {
		fmt.Fprintf(out, "Last hash: %s\n", last)
	}
	if failed > 0 {
		return errors.New(pluralize(failed, "image") + " failed to import")
	}
	return nil
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
