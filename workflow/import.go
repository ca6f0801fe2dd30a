package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/cloudchase/hydrus-nodes/hydrus"
	"github.com/cloudchase/hydrus-nodes/imaging"
	"github.com/cloudchase/hydrus-nodes/tags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequiredImportPermissions must all be granted before anything is uploaded.
var RequiredImportPermissions = []hydrus.Permission{hydrus.PermImportFiles, hydrus.PermEditTags}

var importedImages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hydrus_import_images_total",
	Help: "Images processed by the import workflow by result",
}, []string{"result"})

// ImportStore is the part of the store API the importer writes to.
type ImportStore interface {
	VerifyAccessKey(ctx context.Context) (*hydrus.AccessKeyInfo, error)
	TagServiceKey(ctx context.Context, name string) (string, error)
	AddFile(ctx context.Context, data []byte) (*hydrus.AddFileResult, error)
	AddTags(ctx context.Context, hashes []string, serviceKeysToTags map[string][]string) error
}

// Provenance is embedded into every uploaded PNG as text chunks: Prompt
// under "prompt", each Extra entry under its own key, all JSON encoded.
type Provenance struct {
	Prompt any            `json:"prompt,omitempty"`
	Extra  map[string]any `json:"extra_pnginfo,omitempty"`
}

func (p *Provenance) chunks() ([]imaging.TextChunk, error) {
	if p == nil {
		return nil, nil
	}
	var out []imaging.TextChunk
	if p.Prompt != nil {
		b, err := json.Marshal(p.Prompt)
		if err != nil {
			return nil, fmt.Errorf("encode prompt: %w", err)
		}
		out = append(out, imaging.TextChunk{Keyword: "prompt", Text: string(b)})
	}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.Marshal(p.Extra[k])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out = append(out, imaging.TextChunk{Keyword: k, Text: string(b)})
	}
	return out, nil
}

// Outcome is the result of importing one image.
type Outcome struct {
	Index int
	// Hash is the identity the store assigned.
	Hash string
	// LocalHash is the SHA-256 of the uploaded bytes.
	LocalHash string
	Status    hydrus.ImportStatus
	Err       error
}

// OK reports whether the image was uploaded and tagged.
func (o Outcome) OK() bool { return o.Err == nil }

// LastHash returns the hash of the last successful outcome, or "".
func LastHash(outcomes []Outcome) string {
	for i := len(outcomes) - 1; i >= 0; i-- {
		if outcomes[i].OK() {
			return outcomes[i].Hash
		}
	}
	return ""
}

// Importer uploads images with generation metadata tags.
type Importer struct {
	store      ImportStore
	tagService string
	logger     *slog.Logger
}

// NewImporter creates an importer writing tags to the tag service named tagService.
func NewImporter(store ImportStore, tagService string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, tagService: tagService, logger: logger}
}

// Import uploads each image in order and tags it with tags.Encode(record).
// Permissions and the tag service are checked before the first upload; a
// failure there returns an error and no outcomes. After that, a failing
// image is recorded in its Outcome and the remaining images still run.
func (im *Importer) Import(ctx context.Context, images []image.Image, record tags.Record, prov *Provenance) ([]Outcome, error) {
	info, err := im.store.VerifyAccessKey(ctx)
	if err != nil {
		return nil, &ImportError{Index: -1, Stage: StageVerify, Err: fmt.Errorf("verify access key: %w", err)}
	}
	if missing := info.Missing(RequiredImportPermissions...); len(missing) > 0 {
		return nil, &PermissionError{Missing: missing}
	}
	serviceKey, err := im.store.TagServiceKey(ctx, im.tagService)
	if err != nil {
		return nil, &ImportError{Index: -1, Stage: StageVerify, Err: fmt.Errorf("resolve tag service: %w", err)}
	}
	chunks, err := prov.chunks()
	if err != nil {
		return nil, &ImportError{Index: -1, Stage: StageEncode, Err: err}
	}

	tagList := tags.Encode(record)
	outcomes := make([]Outcome, 0, len(images))
	for i, img := range images {
		im.logger.Debug("importing image", "index", i+1, "count", len(images))
		out := im.importOne(ctx, i, img, chunks, serviceKey, tagList)
		if out.OK() {
			importedImages.WithLabelValues("ok").Inc()
		} else {
			importedImages.WithLabelValues("error").Inc()
			im.logger.Error("import failed", "index", i, "error", out.Err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// ImportTensor splits t into images and imports them.
func (im *Importer) ImportTensor(ctx context.Context, t *imaging.Tensor, record tags.Record, prov *Provenance) ([]Outcome, error) {
	images, err := t.Images()
	if err != nil {
		return nil, &ImportError{Index: -1, Stage: StageEncode, Err: err}
	}
	return im.Import(ctx, images, record, prov)
}

func (im *Importer) importOne(ctx context.Context, i int, img image.Image, chunks []imaging.TextChunk, serviceKey string, tagList []string) Outcome {
	out := Outcome{Index: i}
	data, err := imaging.EncodePNG(img, chunks)
	if err != nil {
		out.Err = &ImportError{Index: i, Stage: StageEncode, Err: err}
		return out
	}
	out.LocalHash = HashBytes(data)

	res, err := im.store.AddFile(ctx, data)
	if err != nil {
		out.Err = &ImportError{Index: i, Stage: StageUpload, Err: err}
		return out
	}
	out.Status = res.Status
	out.Hash = res.Hash
	if res.Status.Failed() {
		out.Err = &ImportError{Index: i, Stage: StageUpload, Err: fmt.Errorf("store reported %s: %s", res.Status, res.Note)}
		return out
	}
	if out.Hash == "" {
		out.Hash = out.LocalHash
	} else if out.Hash != out.LocalHash {
		im.logger.Warn("store hash differs from uploaded bytes", "store_hash", out.Hash, "local_hash", out.LocalHash)
	}

	if len(tagList) == 0 {
		return out
	}
	if err := im.store.AddTags(ctx, []string{out.Hash}, map[string][]string{serviceKey: tagList}); err != nil {
		out.Err = &ImportError{Index: i, Stage: StageTag, Err: err}
	}
	return out
}
