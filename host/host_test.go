package host_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudchase/hydrus-nodes/host"
	"github.com/cloudchase/hydrus-nodes/hydrus/hydrustest"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queued struct {
	Prompt   host.Prompt `json:"prompt"`
	ClientID string      `json:"client_id"`
}

type fakeHost struct {
	*httptest.Server
	mu     sync.Mutex
	got    []queued
	failAt int
}

// newFakeHost starts a host that rejects the prompt with index failAt, or none when failAt is -1.
func newFakeHost(t *testing.T, failAt int) *fakeHost {
	t.Helper()
	h := &fakeHost{failAt: failAt}
	r := chi.NewRouter()
	r.Post("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var q queued
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.got) == h.failAt {
			http.Error(w, `{"error":"invalid prompt"}`, http.StatusBadRequest)
			return
		}
		h.got = append(h.got, q)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(host.QueueResponse{PromptID: fmt.Sprintf("p%d", len(h.got)), Number: len(h.got)})
	})
	h.Server = httptest.NewServer(r)
	t.Cleanup(h.Close)
	return h
}

func (h *fakeHost) received() []queued {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]queued(nil), h.got...)
}

func upscalePrompt() host.Prompt {
	return host.Prompt{
		"59": {"class_type": "Hydrus Image Exporter", "inputs": map[string]any{"usehash": true}},
		"60": {"class_type": "SaveImage"},
	}
}

func TestQueue(t *testing.T) {
	h := newFakeHost(t, -1)
	c := host.NewClient(h.URL + "/")

	resp, err := c.Queue(context.Background(), upscalePrompt())

	require.NoError(t, err)
	assert.Equal(t, "p1", resp.PromptID)
	got := h.received()
	require.Len(t, got, 1)
	assert.Equal(t, c.ClientID(), got[0].ClientID)
	_, err = uuid.Parse(got[0].ClientID)
	assert.NoError(t, err)
	assert.Equal(t, "SaveImage", got[0].Prompt["60"]["class_type"])
}

func TestQueueRejected(t *testing.T) {
	h := newFakeHost(t, 0)

	_, err := host.NewClient(h.URL).Queue(context.Background(), upscalePrompt())

	var hostErr *host.Error
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, http.StatusBadRequest, hostErr.StatusCode)
	assert.Contains(t, hostErr.Body, "invalid prompt")
}

func TestQueueRateLimitHonorsContext(t *testing.T) {
	h := newFakeHost(t, -1)
	c := host.NewClient(h.URL, host.WithRate(0.001))
	_, err := c.Queue(context.Background(), upscalePrompt())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Queue(ctx, upscalePrompt())

	assert.Error(t, err)
	assert.Len(t, h.received(), 1)
}

func TestSetInput(t *testing.T) {
	p := upscalePrompt()

	require.NoError(t, p.SetInput("59", "hash", "abc"))
	require.NoError(t, p.SetInput("60", "filename_prefix", "up"))

	assert.Equal(t, map[string]any{"usehash": true, "hash": "abc"}, p["59"]["inputs"])
	assert.Equal(t, map[string]any{"filename_prefix": "up"}, p["60"]["inputs"])
	assert.Error(t, p.SetInput("1", "hash", "abc"))
}

func TestLoadPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upscale_workflow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"59":{"class_type":"X","inputs":{"hash":""},"_meta":{"title":"t"}}}`), 0o600))

	p, err := host.LoadPrompt(path)

	require.NoError(t, err)
	assert.Equal(t, "X", p["59"]["class_type"])
	assert.Contains(t, p["59"], "_meta")

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))
	_, err = host.LoadPrompt(path)
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	store := hydrustest.New(t)
	a := store.Seed([]byte("one"), "tobeupscaled")
	b := store.Seed([]byte("two"), "tobeupscaled")
	store.Seed([]byte("three"), "done")
	h := newFakeHost(t, -1)
	s := host.NewSubmitter(store.Client(), host.NewClient(h.URL, host.WithRate(1000)), nil)

	out, err := s.Submit(context.Background(), host.Job{Tag: "tobeupscaled", Prompt: upscalePrompt(), Node: "59"})

	require.NoError(t, err)
	assert.Equal(t, []host.Submitted{{Hash: a, PromptID: "p1"}, {Hash: b, PromptID: "p2"}}, out)
	got := h.received()
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].Prompt["59"]["inputs"].(map[string]any)["hash"])
	assert.Equal(t, b, got[1].Prompt["59"]["inputs"].(map[string]any)["hash"])
	assert.Equal(t, true, got[1].Prompt["59"]["inputs"].(map[string]any)["usehash"])
}

func TestSubmitStopsAtFailure(t *testing.T) {
	store := hydrustest.New(t)
	first := store.Seed([]byte("one"), "x")
	store.Seed([]byte("two"), "x")
	h := newFakeHost(t, 1)
	s := host.NewSubmitter(store.Client(), host.NewClient(h.URL), nil)

	out, err := s.Submit(context.Background(), host.Job{Tag: "x", Prompt: upscalePrompt(), Node: "59", Input: "hash"})

	require.Error(t, err)
	assert.Equal(t, []host.Submitted{{Hash: first, PromptID: "p1"}}, out)
}

func TestSubmitUnknownNode(t *testing.T) {
	store := hydrustest.New(t)
	h := newFakeHost(t, -1)
	s := host.NewSubmitter(store.Client(), host.NewClient(h.URL), nil)

	_, err := s.Submit(context.Background(), host.Job{Tag: "x", Prompt: upscalePrompt(), Node: "1"})

	assert.ErrorContains(t, err, `no node "1"`)
	assert.Empty(t, store.Calls(""))
}

func TestSubmitNoMatches(t *testing.T) {
	store := hydrustest.New(t)
	h := newFakeHost(t, -1)
	s := host.NewSubmitter(store.Client(), host.NewClient(h.URL), nil)

	out, err := s.Submit(context.Background(), host.Job{Tag: "nothing", Prompt: upscalePrompt(), Node: "59"})

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, h.received())
}
