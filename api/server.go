// Package api exposes the node workflows over HTTP so a host can call them.
package api

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/registry"
	"github.com/cloudchase/hydrus-nodes/tags"
	"github.com/cloudchase/hydrus-nodes/workflow"
	"github.com/go-chi/chi/v5"
)

// Exporter runs the export workflow.
type Exporter interface {
	Export(ctx context.Context, sel workflow.Selector) (*workflow.ExportResult, error)
}

// Importer runs the import workflow.
type Importer interface {
	Import(ctx context.Context, images []image.Image, record tags.Record, prov *workflow.Provenance) ([]workflow.Outcome, error)
	ImportTensor(ctx context.Context, t *imaging.Tensor, record tags.Record, prov *workflow.Provenance) ([]workflow.Outcome, error)
}

// Deduper runs the duplicate-marking workflow.
type Deduper interface {
	MarkDuplicate(ctx context.Context, hashA, hashB string) error
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Exporter Exporter
	Importer Importer
	Deduper  Deduper
	Registry *registry.Registry
	// InputDir resolves relative image paths in export requests.
	InputDir string
	// MaxBody caps request body size in bytes. Zero means DefaultMaxBody.
	MaxBody int64
	Logger  *slog.Logger
}

// DefaultMaxBody is the request body cap when Deps.MaxBody is unset.
const DefaultMaxBody = 64 << 20

// Server is the HTTP bridge between the host and the workflows.
type Server struct {
	deps   Deps
	addr   string
	router *chi.Mux
	logger *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(deps Deps, addr string) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBody <= 0 {
		deps.MaxBody = DefaultMaxBody
	}
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}
	s := &Server{deps: deps, addr: addr, logger: deps.Logger}
	s.router = s.routes()
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting node bridge", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down node bridge")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
