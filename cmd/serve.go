package cmd

import (
	"log/slog"

	"github.com/cloudchase/hydrus-nodes/api"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveInputDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the node bridge",
	Long: `Start the HTTP bridge the host calls to run the export, import and dedupe
nodes. Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from settings)")
	serveCmd.Flags().StringVar(&serveInputDir, "input-dir", "", "Directory for relative export image paths")
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr := settings.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	inputDir := settings.Server.InputDir
	if serveInputDir != "" {
		inputDir = serveInputDir
	}

	client, err := storeClient()
	if err != nil {
		return err
	}
	logger := slog.Default()
	tagService := settings.Store.TagService

	srv := api.NewServer(api.Deps{
		Exporter: workflow.NewExporter(client, tagService, logger),
		Importer: workflow.NewImporter(client, tagService, logger),
		Deduper:  workflow.NewDeduper(client, settings.Dedupe.Wait, logger),
		Registry: registry.Default(),
		InputDir: inputDir,
		MaxBody:  settings.Server.MaxBody,
		Logger:   logger,
	}, addr)
	return srv.Start(cmd.Context())
}
