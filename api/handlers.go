package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"

	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/cloudchase/hydrus-nodes/tags"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/go-chi/chi/v5"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes an error response with the given status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg, RequestID: RequestIDFrom(r.Context())})
}

// writeWorkflowError maps a workflow error to its HTTP status.
func (s *Server) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("workflow failed", "path", r.URL.Path, "error", err, "request_id", RequestIDFrom(r.Context()))
	}
	s.writeError(w, r, status, err.Error())
}

func statusFor(err error) int {
	var permErr *workflow.PermissionError
	switch {
	case errors.As(err, &permErr):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrRemoteFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"nodes":  len(s.deps.Registry.List()),
	})
}

// handleListNodes handles GET /api/nodes.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]registry.NodeManifest{"nodes": s.deps.Registry.List()})
}

// handleGetNode handles GET /api/nodes/{name}.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// selector converts the exporter node inputs into a workflow selector.
func (s *Server) selector(req ExportRequest) (workflow.Selector, error) {
	switch {
	case req.UseTag:
		if req.Tag == "" {
			return workflow.Selector{}, errors.New("tag is required when usetag is set")
		}
		return workflow.ByTag(req.Tag), nil
	case req.UseHash:
		if req.Hash == "" {
			return workflow.Selector{}, errors.New("hash is required when usehash is set")
		}
		return workflow.ByHash(req.Hash), nil
	default:
		if req.Image == "" {
			return workflow.Selector{}, errors.New("image is required unless usetag or usehash is set")
		}
		path := req.Image
		if !filepath.IsAbs(path) && s.deps.InputDir != "" {
			path = filepath.Join(s.deps.InputDir, path)
		}
		return workflow.ByPath(path), nil
	}
}

// handleExport handles POST /api/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !s.decode(w, r, &req) {
		return
	}
	sel, err := s.selector(req)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Exporter.Export(r.Context(), sel)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}

	b := res.Image.Bounds()
	s.writeJSON(w, http.StatusOK, ExportResponse{
		Hash:      res.Hash,
		Format:    res.Format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     base64.StdEncoding.EncodeToString(res.Data),
		Positive:  res.Metadata.Positive,
		Negative:  res.Metadata.Negative,
		ModelName: res.Metadata.ModelName,
		Seed:      res.Metadata.Seed,
		Loras:     res.Metadata.Loras,
	})
}

func decodeImages(encoded []string) ([]image.Image, error) {
	out := make([]image.Image, 0, len(encoded))
	for i, e := range encoded {
		data, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		img, _, err := imaging.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// handleImport handles POST /api/import.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !s.decode(w, r, &req) {
		return
	}
	if (len(req.Images) == 0) == (req.Tensor == nil) {
		s.writeError(w, r, http.StatusBadRequest, "exactly one of images or tensor is required")
		return
	}

	userTags := registry.DefaultImportTags
	if req.Tags != nil {
		userTags = *req.Tags
	}
	record := tags.Record{
		Positive:  req.Positive,
		Negative:  req.Negative,
		ModelName: req.ModelName,
		Seed:      req.Seed,
		Loras:     req.Loras,
		ExtraTags: tags.Split(userTags),
	}
	var prov *workflow.Provenance
	if req.Prompt != nil || len(req.ExtraPNGInfo) > 0 {
		prov = &workflow.Provenance{Prompt: req.Prompt, Extra: req.ExtraPNGInfo}
	}

	var (
		outcomes []workflow.Outcome
		err      error
	)
	if req.Tensor != nil {
		t := &imaging.Tensor{Shape: req.Tensor.Shape, Data: req.Tensor.Data}
		outcomes, err = s.deps.Importer.ImportTensor(r.Context(), t, record, prov)
	} else {
		images, decErr := decodeImages(req.Images)
		if decErr != nil {
			s.writeError(w, r, http.StatusBadRequest, decErr.Error())
			return
		}
		outcomes, err = s.deps.Importer.Import(r.Context(), images, record, prov)
	}
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}

	resp := ImportResponse{UpscaleHash: workflow.LastHash(outcomes), Results: make([]ImportResult, 0, len(outcomes))}
	for _, o := range outcomes {
		res := ImportResult{Index: o.Index, Hash: o.Hash}
		if o.Status != 0 {
			res.Status = o.Status.String()
		}
		if o.Err != nil {
			res.Error = o.Err.Error()
		}
		resp.Results = append(resp.Results, res)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDedupe handles POST /api/dedupe.
func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	var req DedupeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Deduper.MarkDuplicate(r.Context(), req.OriginalHash, req.UpscaledHash); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
