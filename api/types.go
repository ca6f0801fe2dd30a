package api

import (
	"encoding/json"

	"github.com/cloudchase/hydrus-nodes/tags"
)

// StringList accepts either a JSON array of strings or a single comma
// separated string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = tags.Split(s)
	return nil
}

// ExportRequest is the JSON body for POST /api/export. UseTag takes
// precedence over UseHash; with neither set, Image names a local file.
type ExportRequest struct {
	Image   string `json:"image"`
	Tag     string `json:"tag"`
	Hash    string `json:"hash"`
	UseTag  bool   `json:"usetag"`
	UseHash bool   `json:"usehash"`
}

// ExportResponse is the JSON response for POST /api/export.
type ExportResponse struct {
	Hash   string `json:"hash"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Image is the file as stored, base64 encoded.
	Image     string   `json:"image"`
	Positive  string   `json:"positive"`
	Negative  string   `json:"negative"`
	ModelName string   `json:"modelname"`
	Seed      string   `json:"seed"`
	Loras     []string `json:"loras"`
}

// TensorPayload is an image batch in [N,H,W,C] layout with samples in [0,1].
type TensorPayload struct {
	Shape [4]int    `json:"shape"`
	Data  []float32 `json:"data"`
}

// ImportRequest is the JSON body for POST /api/import. Exactly one of
// Images (base64 encoded PNG, JPEG or GIF files) and Tensor must be set.
type ImportRequest struct {
	Images    []string       `json:"images"`
	Tensor    *TensorPayload `json:"tensor"`
	Positive  string         `json:"positive"`
	Negative  string         `json:"negative"`
	ModelName string         `json:"modelname"`
	Seed      string         `json:"seed"`
	Loras     StringList     `json:"loras"`
	// Tags is the free-form comma separated tag string. A missing field
	// means the node default.
	Tags *string `json:"tags"`
	// Dedupe is accepted for compatibility with saved workflows and has no
	// effect; duplicates are marked by the dedupe node.
	Dedupe       bool           `json:"dedupe"`
	Prompt       any            `json:"prompt"`
	ExtraPNGInfo map[string]any `json:"extra_pnginfo"`
}

// ImportResult reports one image of an import batch.
type ImportResult struct {
	Index  int    `json:"index"`
	Hash   string `json:"hash,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ImportResponse is the JSON response for POST /api/import.
type ImportResponse struct {
	UpscaleHash string         `json:"upscale_hash"`
	Results     []ImportResult `json:"results"`
}

// DedupeRequest is the JSON body for POST /api/dedupe.
type DedupeRequest struct {
	OriginalHash string `json:"original_hash"`
	UpscaledHash string `json:"upscaled_hash"`
}

// StatusResponse is returned by endpoints without a payload.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
