// Package hydrustest provides an in-memory fake of the store's HTTP API for
// tests.
package hydrustest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/go-chi/chi/v5"
)

// Default identifiers served by a new Store.
const (
	APIKey        = "test-key"
	TagServiceKey = "test_service_key"
	TagService    = "my tags"
)

// Call records one request received by the fake.
type Call struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   []byte
}

type file struct {
	id   int64
	data []byte
	tags map[string][]string
}

// Store is a fake store backed by an httptest.Server.
type Store struct {
	Server *httptest.Server

	mu          sync.Mutex
	permissions []hydrus.Permission
	// statuses is consumed one entry per upload; success once empty.
	statuses []hydrus.ImportStatus
	// pending holds, per hash, how many metadata lookups still report the
	// file as not yet indexed.
	pending       map[string]int
	relationships []hydrus.Relationship
	services      hydrus.Services
	files         map[string]*file
	nextID        int64
	calls         []Call
}

// New starts a fake store that grants every permission. It is closed when
// the test ends.
func New(t testing.TB) *Store {
	t.Helper()
	s := &Store{
		permissions: []hydrus.Permission{
			hydrus.PermImportURLs, hydrus.PermImportFiles, hydrus.PermEditTags, hydrus.PermSearchFiles,
		},
		pending: map[string]int{},
		services: hydrus.Services{
			"local_tags": {{Name: TagService, ServiceKey: TagServiceKey}},
		},
		files: map[string]*file{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Server.Close)
	return s
}

// Credentials returns credentials pointing at the fake.
func (s *Store) Credentials() config.Credentials {
	return config.Credentials{APIKey: APIKey, BaseURL: s.Server.URL}
}

// Client returns a client bound to the fake.
func (s *Store) Client(opts ...hydrus.Option) *hydrus.Client {
	return hydrus.NewClient(s.Credentials(), opts...)
}

// SetPermissions replaces the permissions granted to APIKey.
func (s *Store) SetPermissions(perms ...hydrus.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions = perms
}

// QueueUploadStatuses sets the statuses returned by the next uploads, in order.
func (s *Store) QueueUploadStatuses(statuses ...hydrus.ImportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statuses...)
}

// SetPending makes the next n metadata lookups of hash report it as not indexed.
func (s *Store) SetPending(hash string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[hash] = n
}

// SetTagServices replaces the local tag services reported by /get_services.
func (s *Store) SetTagServices(services ...hydrus.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = hydrus.Services{"local_tags": services}
}

// Relationships returns the relationships set so far.
func (s *Store) Relationships() []hydrus.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.relationships)
}

// Seed stores data with tags under the default tag service and returns its hash.
func (s *Store) Seed(data []byte, tags ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(data, tags)
}

func (s *Store) store(data []byte, tags []string) string {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	f, ok := s.files[hash]
	if !ok {
		s.nextID++
		f = &file{id: s.nextID, data: data, tags: map[string][]string{}}
		s.files[hash] = f
	}
	f.tags[TagServiceKey] = append(f.tags[TagServiceKey], tags...)
	return hash
}

// Tags returns the tags stored for hash under the default tag service.
func (s *Store) Tags(hash string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[hash]; ok {
		return slices.Clone(f.tags[TagServiceKey])
	}
	return nil
}

// Has reports whether a file with hash was stored.
func (s *Store) Has(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[hash]
	return ok
}

// Calls returns the requests received for path, or all requests when path is empty.
func (s *Store) Calls(path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if path == "" || c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.authorize)
	r.Get(hydrus.EndpointVerifyKey, s.verifyKey)
	r.Get(hydrus.EndpointServices, s.getServices)
	r.Get(hydrus.EndpointSearchFiles, s.searchFiles)
	r.Get(hydrus.EndpointFileMetadata, s.fileMetadata)
	r.Get(hydrus.EndpointFile, s.getFile)
	r.Post(hydrus.EndpointAddFile, s.addFile)
	r.Post(hydrus.EndpointAddTags, s.addTags)
	r.Post(hydrus.EndpointRelationships, s.setRelationships)
	return r
}

func (s *Store) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Store) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(hydrus.AccessKeyHeader) != APIKey {
			http.Error(w, "invalid access key", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Store) verifyKey(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, hydrus.AccessKeyInfo{BasicPermissions: s.permissions, HumanDescription: "fake"})
}

func (s *Store) getServices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{"version": 1}
	for k, v := range s.services {
		out[k] = v
	}
	writeJSON(w, out)
}

func (s *Store) searchFiles(w http.ResponseWriter, r *http.Request) {
	var want []string
	if err := json.Unmarshal([]byte(r.URL.Query().Get("tags")), &want); err != nil {
		http.Error(w, "bad tags", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for _, f := range s.files {
		if hasAll(f.tags[TagServiceKey], want) {
			ids = append(ids, f.id)
		}
	}
	slices.Sort(ids)
	writeJSON(w, map[string]any{"file_ids": ids})
}

func hasAll(have, want []string) bool {
	for _, t := range want {
		if !slices.Contains(have, t) {
			return false
		}
	}
	return true
}

func (s *Store) fileMetadata(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	switch {
	case q.Get("hashes") != "":
		var hashes []string
		if err := json.Unmarshal([]byte(q.Get("hashes")), &hashes); err != nil {
			http.Error(w, "bad hashes", http.StatusBadRequest)
			return
		}
		for _, h := range hashes {
			out = append(out, s.metadata(h))
		}
	case q.Get("file_ids") != "":
		var ids []int64
		if err := json.Unmarshal([]byte(q.Get("file_ids")), &ids); err != nil {
			http.Error(w, "bad file_ids", http.StatusBadRequest)
			return
		}
		for _, id := range ids {
			for h, f := range s.files {
				if f.id == id {
					out = append(out, s.metadata(h))
				}
			}
		}
	default:
		http.Error(w, "hashes or file_ids required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"metadata": out})
}

func (s *Store) metadata(hash string) map[string]any {
	f, ok := s.files[hash]
	if n := s.pending[hash]; n > 0 {
		s.pending[hash] = n - 1
		ok = false
	}
	if !ok {
		return map[string]any{"file_id": nil, "hash": hash}
	}
	tags := map[string]any{}
	for svc, list := range f.tags {
		tags[svc] = map[string]any{
			"storage_tags": map[string][]string{"0": list},
			"display_tags": map[string][]string{"0": list},
		}
	}
	return map[string]any{"file_id": f.id, "hash": hash, "mime": "image/png", "size": len(f.data), "tags": tags}
}

func (s *Store) getFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.files[r.URL.Query().Get("hash")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(f.data)
}

func (s *Store) addFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	status := hydrus.StatusSuccess
	if len(s.statuses) > 0 {
		status = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	if !status.Failed() {
		s.store(data, nil)
	}
	writeJSON(w, hydrus.AddFileResult{Status: status, Hash: hash, Note: status.String()})
}

func (s *Store) addTags(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hashes            []string            `json:"hashes"`
		ServiceKeysToTags map[string][]string `json:"service_keys_to_tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range body.Hashes {
		f, ok := s.files[h]
		if !ok {
			http.Error(w, "unknown hash "+h, http.StatusBadRequest)
			return
		}
		for svc, tags := range body.ServiceKeysToTags {
			f.tags[svc] = append(f.tags[svc], tags...)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Store) setRelationships(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Relationships []hydrus.Relationship `json:"relationships"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.relationships = append(s.relationships, body.Relationships...)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
