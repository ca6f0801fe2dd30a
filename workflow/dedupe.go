package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/cloudchase/hydrus-nodes/hydrus"
)

// DuplicateRelationship is the relationship kind written for a derived
// (upscaled) variant of an original file.
const DuplicateRelationship = hydrus.RelationABetter

// DedupeStore is the part of the store API the deduper needs.
type DedupeStore interface {
	FileMetadataByHashes(ctx context.Context, hashes []string) ([]hydrus.FileMetadata, error)
	SetFileRelationships(ctx context.Context, rels []hydrus.Relationship) error
}

// Deduper marks one file as a duplicate variant of another.
type Deduper struct {
	store  DedupeStore
	wait   config.WaitSettings
	logger *slog.Logger
}

// NewDeduper creates a deduper that waits for freshly imported files
// according to wait before writing the relationship.
func NewDeduper(store DedupeStore, wait config.WaitSettings, logger *slog.Logger) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{store: store, wait: wait, logger: logger}
}

// MarkDuplicate declares hashB a duplicate variant of hashA with the store's
// default content merge. Hashes are normalized to lowercase hex. Empty hashes
// fail before any request is made.
func (d *Deduper) MarkDuplicate(ctx context.Context, hashA, hashB string) error {
	hashA = strings.ToLower(strings.TrimSpace(hashA))
	hashB = strings.ToLower(strings.TrimSpace(hashB))
	if hashA == "" || hashB == "" {
		return &RelationshipError{Kind: ErrInvalidInput, Err: fmt.Errorf("both hashes are required (hash_a=%q, hash_b=%q)", hashA, hashB)}
	}

	if err := d.awaitReady(ctx, hashA, hashB); err != nil {
		return &RelationshipError{Kind: ErrRemoteFailure, Err: err}
	}

	rel := hydrus.Relationship{
		HashA:                 hashA,
		HashB:                 hashB,
		Relationship:          DuplicateRelationship,
		DoDefaultContentMerge: true,
	}
	d.logger.Debug("setting file relationship", "hash_a", hashA, "hash_b", hashB, "relationship", rel.Relationship)
	if err := d.store.SetFileRelationships(ctx, []hydrus.Relationship{rel}); err != nil {
		return &RelationshipError{Kind: ErrRemoteFailure, Err: err}
	}
	return nil
}

// awaitReady gives the store time to index files imported just before.
func (d *Deduper) awaitReady(ctx context.Context, hashes ...string) error {
	switch d.wait.Mode {
	case config.WaitNone, "":
		return nil
	case config.WaitDelay:
		t := time.NewTimer(d.wait.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	case config.WaitPoll:
		return d.poll(ctx, hashes)
	default:
		return fmt.Errorf("unknown wait mode %q", d.wait.Mode)
	}
}

func (d *Deduper) poll(ctx context.Context, hashes []string) error {
	check := func() (struct{}, error) {
		meta, err := d.store.FileMetadataByHashes(ctx, hashes)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("check file readiness: %w", err))
		}
		known := make(map[string]bool, len(meta))
		for _, m := range meta {
			if m.Known() {
				known[strings.ToLower(m.Hash)] = true
			}
		}
		for _, h := range hashes {
			if !known[h] {
				d.logger.Debug("waiting for store to index file", "hash", h)
				return struct{}{}, fmt.Errorf("file %s not indexed by store", h)
			}
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(backoff.NewConstantBackOff(d.wait.Interval)),
		backoff.WithMaxElapsedTime(d.wait.Timeout),
	)
	return err
}
