// Package workflow implements the export, import and duplicate-marking
// workflows exposed as host nodes.
package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudchase/hydrus-nodes/hydrus"
)

// Error kinds, matched with errors.Is against the typed errors below.
var (
	ErrNotFound      = errors.New("not found")
	ErrRemoteFailure = errors.New("remote failure")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDecode        = errors.New("undecodable image")
)

// PermissionError reports access key permissions required by a workflow
// but not granted by the store.
type PermissionError struct {
	Missing []hydrus.Permission
}

func (e *PermissionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = p.String()
	}
	return "api key missing required permissions: " + strings.Join(names, ", ")
}

// ExportError is returned by Exporter.Export.
type ExportError struct {
	Kind error
	Err  error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return "export: " + e.Kind.Error()
	}
	return fmt.Sprintf("export: %v: %v", e.Kind, e.Err)
}

func (e *ExportError) Unwrap() error        { return e.Err }
func (e *ExportError) Is(target error) bool { return target == e.Kind }

// Import stages.
const (
	StageVerify = "verify"
	StageEncode = "encode"
	StageUpload = "upload"
	StageTag    = "tag"
)

// ImportError describes a failed import. Index is the position of the image
// in the batch, or -1 when the whole batch was rejected.
type ImportError struct {
	Index int
	Stage string
	Err   error
}

func (e *ImportError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("import %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("import image %d %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

func (e *ImportError) Is(target error) bool {
	if e.Stage == StageEncode {
		return target == ErrInvalidInput
	}
	return target == ErrRemoteFailure
}

// RelationshipError is returned by Deduper.MarkDuplicate.
type RelationshipError struct {
	Kind error
	Err  error
}

func (e *RelationshipError) Error() string {
	if e.Err == nil {
		return "mark duplicate: " + e.Kind.Error()
	}
	return fmt.Sprintf("mark duplicate: %v: %v", e.Kind, e.Err)
}

func (e *RelationshipError) Unwrap() error        { return e.Err }
func (e *RelationshipError) Is(target error) bool { return target == e.Kind }
