package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/cloudchase/hydrus-nodes/hydrus/hydrustest"
	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// resetFlags restores every flag to its default, since commands and their
// flag variables are package level.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useStore(t *testing.T) *hydrustest.Store {
	t.Helper()
	store := hydrustest.New(t)
	t.Setenv(config.EnvKey, hydrustest.APIKey)
	t.Setenv(config.EnvURL, store.Server.URL)
	return store
}

func writePNG(t *testing.T, c uint8) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.NRGBA{R: c, G: uint8(x * 100), B: uint8(y * 100), A: 255})
		}
	}
	data, err := imaging.EncodePNG(img, nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNodesTable(t *testing.T) {
	out, err := execute(t, "nodes")

	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Hydrus Image Importer")
	assert.Contains(t, out, "original_hash,upscaled_hash")
	assert.Contains(t, out, "upscale_hash")
}

func TestNodesJSONAndYAML(t *testing.T) {
	out, err := execute(t, "nodes", "--output", "json")
	require.NoError(t, err)
	var fromJSON []registry.NodeManifest
	require.NoError(t, json.Unmarshal([]byte(out), &fromJSON))
	assert.Len(t, fromJSON, 3)

	out, err = execute(t, "nodes", "-o", "yaml")
	require.NoError(t, err)
	var fromYAML []registry.NodeManifest
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	require.Len(t, fromYAML, 3)
	assert.Equal(t, registry.DedupeNode, fromYAML[0].DisplayName)
	assert.Contains(t, out, "output_node: true")

	_, err = execute(t, "nodes", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestNodesDump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")

	out, err := execute(t, "nodes", "--dump", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 manifests")
	manifests, err := registry.NewStore(dir).ListManifests()
	require.NoError(t, err)
	assert.Len(t, manifests, 3)
}

func TestImportExportInfo(t *testing.T) {
	store := useStore(t)
	path := writePNG(t, 10)

	out, err := execute(t, "import", path, "--positive", "a boat", "--seed", "5", "--lora", "a", "--lora", "b", "--tags", "ai")
	require.NoError(t, err)
	_, hash, ok := strings.Cut(out, "Last hash: ")
	require.True(t, ok, out)
	hash = strings.TrimSpace(hash)
	assert.Equal(t, []string{"positive: a boat", "seed: 5", "lora: a", "lora: b", "ai"}, store.Tags(hash))

	out, err = execute(t, "export", "--hash", hash, "--json")
	require.NoError(t, err)
	var got struct {
		Hash  string   `json:"hash"`
		Seed  string   `json:"seed"`
		Loras []string `json:"loras"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, hash, got.Hash)
	assert.Equal(t, "5", got.Seed)
	assert.Equal(t, []string{"a", "b"}, got.Loras)

	dest := filepath.Join(t.TempDir(), "out.png")
	out, err = execute(t, "export", "--tag", "seed: 5", "--out", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "a boat")
	assert.FileExists(t, dest)
	_, err = execute(t, "export", "--tag", "seed: 5", "--out", dest)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "info", hash)
	require.NoError(t, err)
	assert.Contains(t, out, "image/png")
	assert.Contains(t, out, "a, b")

	_, err = execute(t, "info", "unknown")
	assert.ErrorContains(t, err, "not found")
}

func TestImportEmbedsWorkflow(t *testing.T) {
	store := useStore(t)
	path := writePNG(t, 11)
	wf := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(wf, []byte(`{"nodes":[]}`), 0o600))

	_, err := execute(t, "import", path, "--workflow-file", wf)

	require.NoError(t, err)
	uploads := store.Calls(hydrus.EndpointAddFile)
	require.Len(t, uploads, 1)
	chunks, err := imaging.ReadTextChunks(uploads[0].Body)
	require.NoError(t, err)
	assert.Equal(t, []imaging.TextChunk{{Keyword: "workflow", Text: `{"nodes":[]}`}}, chunks)
}

func TestImportReportsFailures(t *testing.T) {
	store := useStore(t)
	store.QueueUploadStatuses(hydrus.StatusFailed)

	out, err := execute(t, "import", writePNG(t, 1), writePNG(t, 2))

	assert.ErrorContains(t, err, "1 image failed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "Last hash:")
}

func TestExportFlagValidation(t *testing.T) {
	useStore(t)

	_, err := execute(t, "export")
	assert.Error(t, err)

	_, err = execute(t, "export", "--hash", "a", "--tag", "b")
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	store := useStore(t)

	out, err := execute(t, "dedupe", "orig", "up", "--wait", "none")

	require.NoError(t, err)
	assert.Contains(t, out, "Marked up")
	assert.Equal(t, []hydrus.Relationship{{HashA: "orig", HashB: "up", Relationship: 4, DoDefaultContentMerge: true}}, store.Relationships())

	_, err = execute(t, "dedupe", "orig", "up", "--wait", "forever")
	assert.Error(t, err)
	assert.Len(t, store.Relationships(), 1)
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv(config.EnvKey, "")
	t.Setenv(config.EnvURL, "")

	_, err := execute(t, "dedupe", "a", "b", "--wait", "none")

	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Contains(t, err.Error(), config.EnvKey)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "nodes", "--log-level", "loud")
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	store := useStore(t)
	first := store.Seed([]byte("one"), "tobeupscaledbeta")
	second := store.Seed([]byte("two"), "tobeupscaledbeta")

	var (
		mu   sync.Mutex
		seen []string
	)
	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt map[string]map[string]any `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, body.Prompt["59"]["inputs"].(map[string]any)["hash"].(string))
		n := len(seen)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": fmt.Sprintf("p%d", n), "number": n})
	}))
	t.Cleanup(hostSrv.Close)
	wf := filepath.Join(t.TempDir(), "upscale_workflow.json")
	require.NoError(t, os.WriteFile(wf, []byte(`{"59":{"class_type":"Hydrus Image Exporter","inputs":{"hash":""}}}`), 0o600))

	out, err := execute(t, "submit", "--tag", "tobeupscaledbeta", "--workflow", wf, "--node", "59", "--host", hostSrv.URL, "--rate", "1000")

	require.NoError(t, err)
	assert.Contains(t, out, "Queued 2 prompts")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{first, second}, seen)

	_, err = execute(t, "submit", "--tag", "x")
	assert.Error(t, err)
}
