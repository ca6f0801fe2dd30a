package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// settings is loaded by the root command before any subcommand runs.
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "hyd",
	Short: "Hydrus nodes - image store adapters for a node-graph host",
	Long: `Export images and generation metadata from a Hydrus client, import generated
images with metadata tags, mark upscaled variants as duplicates and serve all three
as host nodes.

Credentials come from HYDRUS_KEY and HYDRUS_URL, falling back to hydrus_api.txt
next to the executable.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Settings file (default ./hyd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	s, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		s.Log.Level = logLevel
		if err := s.Validate(); err != nil {
			return err
		}
	}
	settings = s
	slog.SetDefault(newLogger(s.Log, cmd.ErrOrStderr()))
	return nil
}

func newLogger(ls config.LogSettings, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ls.SlogLevel()}
	if ls.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// storeClient resolves credentials and returns a client for the store.
func storeClient() (*hydrus.Client, error) {
	creds, err := config.ResolveCredentials(settings.Credentials.File)
	if err != nil {
		return nil, err
	}
	return hydrus.NewClient(creds,
		hydrus.WithTimeout(settings.Store.Timeout),
		hydrus.WithLogger(slog.Default()),
	), nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
