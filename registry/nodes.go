package registry

// Node names as registered with the host.
const (
	ImporterNode = "Hydrus Image Importer"
	ExporterNode = "Hydrus Image Exporter"
	DedupeNode   = "Hydrus Image Dedupe"
)

// DefaultImportTags is the default of the importer's free-form tags input.
const DefaultImportTags = "ai, comfyui, hyshare: ai"

const category = "image"

// Builtin returns the manifests of the nodes this module provides.
func Builtin() []NodeManifest {
	return []NodeManifest{importer(), exporter(), dedupe()}
}

func importer() NodeManifest {
	return NodeManifest{
		Name:        ImporterNode,
		DisplayName: ImporterNode,
		Category:    category,
		Description: "Upload a batch of images with generation metadata tags.",
		Inputs: Inputs{
			Required: []Input{
				{Name: "images", Type: TypeImage, ForceInput: true},
			},
			Optional: []Input{
				{Name: "positive", Type: TypeString, Multiline: true, ForceInput: true},
				{Name: "negative", Type: TypeString, Multiline: true, ForceInput: true},
				{Name: "modelname", Type: TypeString, Default: "", ForceInput: true},
				{Name: "seed", Type: TypeString, Default: ""},
				{Name: "loras", Type: TypeString, Default: ""},
				{Name: "tags", Type: TypeString, Default: DefaultImportTags, ForceInput: true},
				{Name: "dedupe", Type: TypeBoolean, Default: false},
			},
			Hidden: []Input{
				{Name: "prompt", Type: TypePrompt},
				{Name: "extra_pnginfo", Type: TypePNGInfo},
			},
		},
		Outputs:    []Output{{Name: "upscale_hash", Type: TypeString}},
		OutputNode: true,
		Endpoint:   "/api/import",
	}
}

func exporter() NodeManifest {
	return NodeManifest{
		Name:        ExporterNode,
		DisplayName: ExporterNode,
		Category:    category,
		Description: "Load an image and its generation metadata by hash, tag or local file.",
		Inputs: Inputs{
			Optional: []Input{
				{Name: "image", Type: TypeFile, Default: ""},
				{Name: "tag", Type: TypeString, Default: "", ForceInput: true},
				{Name: "hash", Type: TypeString, Default: "", ForceInput: true},
				{Name: "usetag", Type: TypeBoolean, Default: false},
				{Name: "usehash", Type: TypeBoolean, Default: false},
			},
		},
		Outputs: []Output{
			{Name: "image", Type: TypeImage},
			{Name: "positive", Type: TypeString},
			{Name: "negative", Type: TypeString},
			{Name: "modelname", Type: TypeString},
			{Name: "seed", Type: TypeString},
			{Name: "loras", Type: TypeString, List: true},
		},
		Endpoint: "/api/export",
	}
}

func dedupe() NodeManifest {
	return NodeManifest{
		Name:        DedupeNode,
		DisplayName: DedupeNode,
		Category:    category,
		Description: "Mark an upscaled file as a better duplicate of its original.",
		Inputs: Inputs{
			Required: []Input{
				{Name: "original_hash", Type: TypeString, Multiline: true, ForceInput: true},
				{Name: "upscaled_hash", Type: TypeString, Multiline: true, ForceInput: true},
			},
		},
		Outputs:    []Output{},
		OutputNode: true,
		Endpoint:   "/api/dedupe",
	}
}
