package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/tags"
)

// ExportStore is the part of the store API the exporter reads from.
type ExportStore interface {
	TagServiceKey(ctx context.Context, name string) (string, error)
	SearchFiles(ctx context.Context, tags []string) ([]int64, error)
	FileMetadataByIDs(ctx context.Context, ids []int64) ([]hydrus.FileMetadata, error)
	FileMetadataByHashes(ctx context.Context, hashes []string) ([]hydrus.FileMetadata, error)
	GetFile(ctx context.Context, hash string) ([]byte, error)
}

// Selector picks the file to export. Exactly one field must be set.
type Selector struct {
	Hash string `json:"hash,omitempty"`
	Tag  string `json:"tag,omitempty"`
	Path string `json:"path,omitempty"`
}

func ByHash(hash string) Selector { return Selector{Hash: hash} }
func ByTag(tag string) Selector   { return Selector{Tag: tag} }
func ByPath(path string) Selector { return Selector{Path: path} }

// Validate checks that exactly one selector field is set.
func (s Selector) Validate() error {
	n := 0
	for _, v := range []string{s.Hash, s.Tag, s.Path} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("selector needs exactly one of hash, tag or path, got %d", n)
	}
	return nil
}

// ExportResult is an exported image and its decoded metadata.
type ExportResult struct {
	Hash     string
	Data     []byte
	Format   string
	Image    image.Image
	Tensor   *imaging.Tensor
	Metadata tags.Record
}

// Exporter loads images and their generation metadata from the store.
type Exporter struct {
	store      ExportStore
	tagService string
	logger     *slog.Logger
}

// NewExporter creates an exporter reading tags from the tag service named tagService.
func NewExporter(store ExportStore, tagService string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, tagService: tagService, logger: logger}
}

// Export resolves sel to a file hash, then fetches and decodes the file and
// its tags. Nothing is retried.
func (e *Exporter) Export(ctx context.Context, sel Selector) (*ExportResult, error) {
	if err := sel.Validate(); err != nil {
		return nil, &ExportError{Kind: ErrInvalidInput, Err: err}
	}
	hash, err := e.resolve(ctx, sel)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("exporting file", "hash", hash)

	record, err := e.Metadata(ctx, hash)
	if err != nil {
		return nil, err
	}

	data, err := e.store.GetFile(ctx, hash)
	if err != nil {
		return nil, remoteExportError(fmt.Errorf("fetch file %s: %w", hash, err))
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		return nil, &ExportError{Kind: ErrDecode, Err: err}
	}

	return &ExportResult{
		Hash:     hash,
		Data:     data,
		Format:   format,
		Image:    img,
		Tensor:   imaging.FromImage(img),
		Metadata: record,
	}, nil
}

// Metadata fetches and decodes the tags of the file with the given hash.
func (e *Exporter) Metadata(ctx context.Context, hash string) (tags.Record, error) {
	serviceKey, err := e.store.TagServiceKey(ctx, e.tagService)
	if err != nil {
		return tags.Record{}, remoteExportError(fmt.Errorf("resolve tag service: %w", err))
	}
	meta, err := e.store.FileMetadataByHashes(ctx, []string{hash})
	if err != nil {
		return tags.Record{}, remoteExportError(fmt.Errorf("fetch metadata %s: %w", hash, err))
	}
	if len(meta) == 0 {
		return tags.Record{}, remoteExportError(fmt.Errorf("store returned no metadata for %s", hash))
	}
	return tags.Decode(meta[0].CurrentTags(serviceKey)), nil
}

func (e *Exporter) resolve(ctx context.Context, sel Selector) (string, error) {
	switch {
	case sel.Hash != "":
		return sel.Hash, nil
	case sel.Tag != "":
		return e.firstWithTag(ctx, sel.Tag)
	default:
		data, err := os.ReadFile(sel.Path)
		if err != nil {
			return "", &ExportError{Kind: ErrInvalidInput, Err: fmt.Errorf("read %s: %w", sel.Path, err)}
		}
		return HashBytes(data), nil
	}
}

func (e *Exporter) firstWithTag(ctx context.Context, tag string) (string, error) {
	hashes, err := FilesWithTag(ctx, e.store, tag)
	if err != nil {
		return "", remoteExportError(err)
	}
	if len(hashes) == 0 {
		return "", &ExportError{Kind: ErrNotFound, Err: fmt.Errorf("no files with tag %q", tag)}
	}
	return hashes[0], nil
}

// TagSearcher finds files by tag.
type TagSearcher interface {
	SearchFiles(ctx context.Context, tags []string) ([]int64, error)
	FileMetadataByIDs(ctx context.Context, ids []int64) ([]hydrus.FileMetadata, error)
}

// FilesWithTag returns the hashes of files carrying tag, in the store's order.
func FilesWithTag(ctx context.Context, store TagSearcher, tag string) ([]string, error) {
	ids, err := store.SearchFiles(ctx, []string{tag})
	if err != nil {
		return nil, fmt.Errorf("search tag %q: %w", tag, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	meta, err := store.FileMetadataByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for tag %q: %w", tag, err)
	}
	hashes := make([]string, 0, len(meta))
	for _, m := range meta {
		hashes = append(hashes, m.Hash)
	}
	return hashes, nil
}

// HashBytes returns the hex SHA-256 of data, the identity the store assigns.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func remoteExportError(err error) *ExportError {
	return &ExportError{Kind: ErrRemoteFailure, Err: err}
}
