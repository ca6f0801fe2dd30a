// Package tags converts generation metadata to and from the flat tag
// strings stored alongside each file in the remote store.
//
// Generated tags follow a "prefix: value" convention. Decoding is lossy:
// tags without a recognized prefix are ignored and never come back as
// ExtraTags.
package tags

import "strings"

// Recognized tag prefixes.
const (
	PrefixPositive  = "positive:"
	PrefixNegative  = "negative:"
	PrefixModelName = "modelname:"
	PrefixSeed      = "seed:"
	PrefixLora      = "lora:"
)

// Record is the structured generation metadata attached to an image.
type Record struct {
	Positive  string   `json:"positive,omitempty"`
	Negative  string   `json:"negative,omitempty"`
	ModelName string   `json:"modelname,omitempty"`
	Seed      string   `json:"seed,omitempty"`
	Loras     []string `json:"loras"`
	ExtraTags []string `json:"extra_tags,omitempty"`
}

type rule struct {
	prefix string
	set    func(r *Record, value string)
}

// decodeRules is evaluated in order; the first matching prefix wins.
var decodeRules = []rule{
	{PrefixModelName, func(r *Record, v string) { r.ModelName = v }},
	{PrefixPositive, func(r *Record, v string) { r.Positive = v }},
	{PrefixNegative, func(r *Record, v string) { r.Negative = v }},
	{PrefixSeed, func(r *Record, v string) { r.Seed = v }},
	{PrefixLora, func(r *Record, v string) { r.Loras = append(r.Loras, v) }},
}

// Encode flattens r into tags: positive, negative, modelname and seed (each
// only when set), one lora tag per entry, then ExtraTags unchanged.
func Encode(r Record) []string {
	out := make([]string, 0, 4+len(r.Loras)+len(r.ExtraTags))
	for _, f := range []struct{ prefix, value string }{
		{PrefixPositive, r.Positive},
		{PrefixNegative, r.Negative},
		{PrefixModelName, r.ModelName},
		{PrefixSeed, r.Seed},
	} {
		if f.value != "" {
			out = append(out, format(f.prefix, f.value))
		}
	}
	for _, lora := range r.Loras {
		out = append(out, format(PrefixLora, lora))
	}
	return append(out, r.ExtraTags...)
}

// Decode rebuilds a Record from tags. The separator space written by Encode
// is optional, since the store may normalize "prefix: value" to "prefix:value".
func Decode(tags []string) Record {
	r := Record{Loras: []string{}}
	for _, tag := range tags {
		for _, rl := range decodeRules {
			if rest, ok := strings.CutPrefix(tag, rl.prefix); ok {
				rl.set(&r, strings.TrimPrefix(rest, " "))
				break
			}
		}
	}
	return r
}

// Split turns a comma separated tag string such as "ai, comfyui" into
// trimmed tags. Empty entries are dropped.
func Split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func format(prefix, value string) string {
	return prefix + " " + value
}
