package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes node manifests as JSON files in one directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// EnsureDir creates the manifest directory if it does not exist.
func (s *Store) EnsureDir() error {
	return os.MkdirAll(s.dir, 0755)
}

// FileName maps a node name to its manifest file name.
func FileName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_")) + ".json"
}

// SaveManifest writes a node manifest to disk as JSON.
func (s *Store) SaveManifest(m *NodeManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, FileName(m.Name)), data, 0644)
}

// LoadManifest reads a node manifest from disk by node name.
func (s *Store) LoadManifest(name string) (*NodeManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, FileName(name)))
	if err != nil {
		return nil, err
	}
	var m NodeManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListManifests returns all manifests found in the directory. Unreadable
// files are skipped.
func (s *Store) ListManifests() ([]NodeManifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var manifests []NodeManifest
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var m NodeManifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
