package hydrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Endpoints consumed from the store.
const (
	EndpointVerifyKey     = "/verify_access_key"
	EndpointServices      = "/get_services"
	EndpointSearchFiles   = "/get_files/search_files"
	EndpointFileMetadata  = "/get_files/file_metadata"
	EndpointFile          = "/get_files/file"
	EndpointAddFile       = "/add_files/add_file"
	EndpointAddTags       = "/add_tags/add_tags"
	EndpointRelationships = "/manage_file_relationships/set_file_relationships"
)

// VerifyAccessKey reports the permissions granted to the client's key.
func (c *Client) VerifyAccessKey(ctx context.Context) (*AccessKeyInfo, error) {
	var info AccessKeyInfo
	if err := c.getJSON(ctx, EndpointVerifyKey, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetServices lists the store's services grouped by category. Entries that
// are not service lists are skipped.
func (c *Client) GetServices(ctx context.Context) (Services, error) {
	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, EndpointServices, nil, &raw); err != nil {
		return nil, err
	}
	services := make(Services, len(raw))
	for category, msg := range raw {
		var list []Service
		if err := json.Unmarshal(msg, &list); err != nil {
			continue
		}
		services[category] = list
	}
	return services, nil
}

// TagServiceKey resolves a tag service name to its key.
func (c *Client) TagServiceKey(ctx context.Context, name string) (string, error) {
	services, err := c.GetServices(ctx)
	if err != nil {
		return "", err
	}
	return services.TagServiceKey(name)
}

// SearchFiles returns the ids of files carrying every tag in tags, in the
// store's default order.
func (c *Client) SearchFiles(ctx context.Context, tags []string) ([]int64, error) {
	var resp struct {
		FileIDs []int64 `json:"file_ids"`
	}
	q := url.Values{"tags": {jsonParam(tags)}}
	if err := c.getJSON(ctx, EndpointSearchFiles, q, &resp); err != nil {
		return nil, err
	}
	return resp.FileIDs, nil
}

// FileMetadataByHashes fetches metadata for the given hashes.
func (c *Client) FileMetadataByHashes(ctx context.Context, hashes []string) ([]FileMetadata, error) {
	return c.fileMetadata(ctx, url.Values{"hashes": {jsonParam(hashes)}})
}

// FileMetadataByIDs fetches metadata for the given file ids.
func (c *Client) FileMetadataByIDs(ctx context.Context, ids []int64) ([]FileMetadata, error) {
	return c.fileMetadata(ctx, url.Values{"file_ids": {jsonParam(ids)}})
}

func (c *Client) fileMetadata(ctx context.Context, q url.Values) ([]FileMetadata, error) {
	var resp struct {
		Metadata []FileMetadata `json:"metadata"`
	}
	if err := c.getJSON(ctx, EndpointFileMetadata, q, &resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// GetFile downloads the raw bytes of the file with the given hash.
func (c *Client) GetFile(ctx context.Context, hash string) ([]byte, error) {
	return c.call(ctx, http.MethodGet, EndpointFile, url.Values{"hash": {hash}}, nil, "")
}

// AddFile uploads data as a new file.
func (c *Client) AddFile(ctx context.Context, data []byte) (*AddFileResult, error) {
	raw, err := c.call(ctx, http.MethodPost, EndpointAddFile, nil, bytes.NewReader(data), "application/octet-stream")
	if err != nil {
		return nil, err
	}
	var res AddFileResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", EndpointAddFile, err)
	}
	return &res, nil
}

// AddTags adds tags to the given files, per tag service key.
func (c *Client) AddTags(ctx context.Context, hashes []string, serviceKeysToTags map[string][]string) error {
	body := struct {
		Hashes            []string            `json:"hashes"`
		ServiceKeysToTags map[string][]string `json:"service_keys_to_tags"`
	}{hashes, serviceKeysToTags}
	return c.postJSON(ctx, EndpointAddTags, body, nil)
}

// SetFileRelationships applies relationship declarations between file pairs.
func (c *Client) SetFileRelationships(ctx context.Context, rels []Relationship) error {
	body := struct {
		Relationships []Relationship `json:"relationships"`
	}{rels}
	return c.postJSON(ctx, EndpointRelationships, body, nil)
}
