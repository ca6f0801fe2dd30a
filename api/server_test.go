package api_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cloudchase/hydrus-nodes/api"
	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/cloudchase/hydrus-nodes/hydrus/hydrustest"
	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store  *hydrustest.Store
	server *httptest.Server
	input  string
}

func setup(t *testing.T) *env {
	t.Helper()
	store := hydrustest.New(t)
	client := store.Client()
	input := t.TempDir()
	srv := api.NewServer(api.Deps{
		Exporter: workflow.NewExporter(client, hydrustest.TagService, nil),
		Importer: workflow.NewImporter(client, hydrustest.TagService, nil),
		Deduper:  workflow.NewDeduper(client, config.WaitSettings{Mode: config.WaitNone}, nil),
		InputDir: input,
	}, ":0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{store: store, server: ts, input: input}
}

func (e *env) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *env) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func pngData(t *testing.T, c uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	img.Set(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	data, err := imaging.EncodePNG(img, nil)
	require.NoError(t, err)
	return data
}

func TestHealthAndRequestID(t *testing.T) {
	e := setup(t)

	resp, body := e.get(t, "/api/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","nodes":3}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get(api.RequestIDHeader))
}

func TestNodes(t *testing.T) {
	e := setup(t)

	resp, body := e.get(t, "/api/nodes/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Nodes []registry.NodeManifest `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Nodes, 3)

	resp, body = e.get(t, "/api/nodes/"+url.PathEscape(registry.DedupeNode))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m registry.NodeManifest
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "/api/dedupe", m.Endpoint)

	resp, _ = e.get(t, "/api/nodes/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	e := setup(t)
	e.get(t, "/api/health")
	e.post(t, "/api/dedupe", api.DedupeRequest{OriginalHash: "a", UpscaledHash: "b"})

	resp, body := e.get(t, "/metrics")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hydrus_requests_total")
}

func TestExportByHash(t *testing.T) {
	e := setup(t)
	data := pngData(t, 40)
	hash := e.store.Seed(data, "positive: a cat", "seed: 7", "lora: one", "lora: two")

	resp, body := e.post(t, "/api/export", api.ExportRequest{Hash: hash, UseHash: true})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ExportResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, hash, out.Hash)
	assert.Equal(t, "png", out.Format)
	assert.Equal(t, 3, out.Width)
	assert.Equal(t, 2, out.Height)
	assert.Equal(t, "a cat", out.Positive)
	assert.Equal(t, "7", out.Seed)
	assert.Equal(t, []string{"one", "two"}, out.Loras)
	raw, err := base64.StdEncoding.DecodeString(out.Image)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestExportByImageInInputDir(t *testing.T) {
	e := setup(t)
	data := pngData(t, 41)
	hash := e.store.Seed(data)
	require.NoError(t, os.WriteFile(filepath.Join(e.input, "in.png"), data, 0o600))

	resp, body := e.post(t, "/api/export", api.ExportRequest{Image: "in.png", Hash: "ignored"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ExportResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, hash, out.Hash)
	assert.Equal(t, []string{}, out.Loras)
}

func TestExportErrors(t *testing.T) {
	e := setup(t)

	tests := []struct {
		name   string
		req    api.ExportRequest
		status int
	}{
		{"usehash without hash", api.ExportRequest{UseHash: true}, http.StatusBadRequest},
		{"usetag without tag", api.ExportRequest{UseTag: true}, http.StatusBadRequest},
		{"no image", api.ExportRequest{}, http.StatusBadRequest},
		{"missing local file", api.ExportRequest{Image: "absent.png"}, http.StatusBadRequest},
		{"tag matches nothing", api.ExportRequest{Tag: "none", UseTag: true}, http.StatusNotFound},
		{"unknown hash", api.ExportRequest{Hash: "deadbeef", UseHash: true}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := e.post(t, "/api/export", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			var errResp api.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp.Error)
			assert.NotEmpty(t, errResp.RequestID)
		})
	}
}

func TestImportImages(t *testing.T) {
	e := setup(t)
	req := map[string]any{
		"images":        []string{base64.StdEncoding.EncodeToString(pngData(t, 1)), base64.StdEncoding.EncodeToString(pngData(t, 2))},
		"positive":      "a fox",
		"seed":          "42",
		"loras":         "film_grain",
		"prompt":        map[string]any{"1": map[string]any{"class_type": "KSampler"}},
		"extra_pnginfo": map[string]any{"workflow": map[string]any{"version": 1}},
	}

	resp, body := e.post(t, "/api/import", req)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ImportResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, out.Results[1].Hash, out.UpscaleHash)
	assert.Equal(t, "success", out.Results[0].Status)
	assert.Equal(t,
		[]string{"positive: a fox", "seed: 42", "lora: film_grain", "ai", "comfyui", "hyshare: ai"},
		e.store.Tags(out.UpscaleHash))

	uploads := e.store.Calls(hydrus.EndpointAddFile)
	require.Len(t, uploads, 2)
	chunks, err := imaging.ReadTextChunks(uploads[0].Body)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "prompt", chunks[0].Keyword)
	assert.Equal(t, "workflow", chunks[1].Keyword)
}

func TestImportTensorWithExplicitTags(t *testing.T) {
	e := setup(t)
	req := map[string]any{
		"tensor": api.TensorPayload{Shape: [4]int{1, 1, 2, 3}, Data: []float32{0, 0.5, 1, 1, 0.5, 0}},
		"loras":  []string{"a", "b"},
		"tags":   "",
	}

	resp, body := e.post(t, "/api/import", req)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ImportResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, []string{"lora: a", "lora: b"}, e.store.Tags(out.UpscaleHash))
}

func TestImportPartialFailure(t *testing.T) {
	e := setup(t)
	e.store.QueueUploadStatuses(hydrus.StatusVetoed)
	req := map[string]any{"images": []string{
		base64.StdEncoding.EncodeToString(pngData(t, 1)),
		base64.StdEncoding.EncodeToString(pngData(t, 2)),
	}}

	resp, body := e.post(t, "/api/import", req)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.ImportResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "vetoed", out.Results[0].Status)
	assert.Contains(t, out.Results[0].Error, "vetoed")
	assert.Empty(t, out.Results[1].Error)
	assert.Equal(t, out.Results[1].Hash, out.UpscaleHash)
}

func TestImportErrors(t *testing.T) {
	e := setup(t)
	good := base64.StdEncoding.EncodeToString(pngData(t, 1))

	resp, _ := e.post(t, "/api/import", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.post(t, "/api/import", map[string]any{"images": []string{good}, "tensor": api.TensorPayload{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.post(t, "/api/import", map[string]any{"images": []string{"!!"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.post(t, "/api/import", map[string]any{"tensor": api.TensorPayload{Shape: [4]int{1, 1, 1, 3}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.post(t, "/api/import", map[string]any{"tensor": api.TensorPayload{Shape: [4]int{1, 1 << 31, 1 << 31, 4}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, e.store.Calls(hydrus.EndpointAddFile))

	e.store.SetPermissions(hydrus.PermImportFiles)
	resp, body := e.post(t, "/api/import", map[string]any{"images": []string{good}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "edit file tags")
	assert.Empty(t, e.store.Calls(hydrus.EndpointAddFile))
}

func TestRequestBodyLimit(t *testing.T) {
	store := hydrustest.New(t)
	client := store.Client()
	srv := api.NewServer(api.Deps{
		Importer: workflow.NewImporter(client, hydrustest.TagService, nil),
		MaxBody:  256,
	}, ":0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	e := &env{store: store, server: ts}

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 1024))
	resp, body := e.post(t, "/api/import", map[string]any{"images": []string{big}})

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, string(body), "256 bytes")
	assert.Empty(t, store.Calls(hydrus.EndpointAddFile))
}

func TestDedupe(t *testing.T) {
	e := setup(t)

	resp, body := e.post(t, "/api/dedupe", api.DedupeRequest{OriginalHash: "aaa", UpscaledHash: "bbb"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []hydrus.Relationship{{HashA: "aaa", HashB: "bbb", Relationship: 4, DoDefaultContentMerge: true}}, e.store.Relationships())

	resp, _ = e.post(t, "/api/dedupe", api.DedupeRequest{OriginalHash: "aaa"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, e.store.Relationships(), 1)
}

func TestMalformedBody(t *testing.T) {
	e := setup(t)
	resp, err := http.Post(e.server.URL+"/api/dedupe", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Every input a node declares must be accepted by the request body of its endpoint.
func TestManifestInputsMatchRequests(t *testing.T) {
	bodies := map[string]any{
		"/api/import": api.ImportRequest{},
		"/api/export": api.ExportRequest{},
		"/api/dedupe": api.DedupeRequest{},
	}
	for _, m := range registry.Default().List() {
		body, ok := bodies[m.Endpoint]
		require.True(t, ok, "no request type for %s", m.Endpoint)
		fields := jsonFields(reflect.TypeOf(body))
		for _, in := range m.Inputs.All() {
			assert.Contains(t, fields, in.Name, "%s input %s", m.Name, in.Name)
		}
	}
}

func jsonFields(t reflect.Type) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out = append(out, name)
	}
	return out
}
