package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudchase/hydrus-nodes/workflow"
)

// DefaultInput is the node input that receives each file hash.
const DefaultInput = "hash"

// Submitter queues one prompt per file carrying a tag.
type Submitter struct {
	store  workflow.TagSearcher
	host   *Client
	logger *slog.Logger
}

// NewSubmitter creates a submitter searching store and queueing on host.
func NewSubmitter(store workflow.TagSearcher, host *Client, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, host: host, logger: logger}
}

// Job describes a batch submission.
type Job struct {
	Tag    string
	Prompt Prompt
	// Node is the prompt node whose Input receives the hash.
	Node  string
	Input string
}

// Submitted pairs a file hash with the host's reply.
type Submitted struct {
	Hash     string
	PromptID string
}

// Submit finds the files carrying job.Tag and queues job.Prompt once per
// file with the hash injected. It stops at the first failure and returns the
// prompts queued so far.
func (s *Submitter) Submit(ctx context.Context, job Job) ([]Submitted, error) {
	input := job.Input
	if input == "" {
		input = DefaultInput
	}
	if _, ok := job.Prompt[job.Node]; !ok {
		return nil, fmt.Errorf("prompt has no node %q", job.Node)
	}

	hashes, err := workflow.FilesWithTag(ctx, s.store, job.Tag)
	if err != nil {
		return nil, err
	}
	s.logger.Info("found files to submit", "tag", job.Tag, "count", len(hashes))

	out := make([]Submitted, 0, len(hashes))
	for _, h := range hashes {
		if err := job.Prompt.SetInput(job.Node, input, h); err != nil {
			return out, err
		}
		resp, err := s.host.Queue(ctx, job.Prompt)
		if err != nil {
			return out, fmt.Errorf("queue prompt for %s: %w", h, err)
		}
		s.logger.Info("prompt queued", "hash", h, "prompt_id", resp.PromptID)
		out = append(out, Submitted{Hash: h, PromptID: resp.PromptID})
	}
	return out, nil
}
