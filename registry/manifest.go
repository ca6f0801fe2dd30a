package registry

// Input value types understood by the host.
const (
	TypeImage   = "IMAGE"
	TypeString  = "STRING"
	TypeBoolean = "BOOLEAN"
	TypeFile    = "FILE"
	TypePrompt  = "PROMPT"
	TypePNGInfo = "EXTRA_PNGINFO"
)

// Input describes one node input.
type Input struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Default    any    `json:"default,omitempty" yaml:"default,omitempty"`
	Multiline  bool   `json:"multiline,omitempty" yaml:"multiline,omitempty"`
	ForceInput bool   `json:"force_input,omitempty" yaml:"force_input,omitempty"`
}

// Inputs groups a node's inputs the way the host presents them.
type Inputs struct {
	Required []Input `json:"required" yaml:"required"`
	Optional []Input `json:"optional" yaml:"optional"`
	// Hidden inputs are filled in by the host, never by the user.
	Hidden []Input `json:"hidden" yaml:"hidden"`
}

// All returns required, optional and hidden inputs in that order.
func (in Inputs) All() []Input {
	out := make([]Input, 0, len(in.Required)+len(in.Optional)+len(in.Hidden))
	out = append(out, in.Required...)
	out = append(out, in.Optional...)
	return append(out, in.Hidden...)
}

// Output describes one node output.
type Output struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	List bool   `json:"list,omitempty" yaml:"list,omitempty"`
}

// NodeManifest describes a node as registered with the host.
type NodeManifest struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Category    string   `json:"category" yaml:"category"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      Inputs   `json:"inputs" yaml:"inputs"`
	Outputs     []Output `json:"outputs" yaml:"outputs"`
	// OutputNode marks nodes the host always executes because they have
	// side effects.
	OutputNode bool `json:"output_node" yaml:"output_node"`
	// Endpoint is the bridge route that executes the node.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Input returns the input called name.
func (m *NodeManifest) Input(name string) (Input, bool) {
	for _, in := range m.Inputs.All() {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}
