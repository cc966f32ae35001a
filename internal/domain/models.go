package domain

import "sort"

const DefaultModel = "u2net"

var modelDescriptions = map[string]string{
	"u2net":             "General-purpose model, good balance of quality and speed",
	"u2netp":            "Lightweight version of u2net, faster with slightly lower quality",
	"u2net_human_seg":   "Tuned for people and portraits",
	"silueta":           "Compact model (43MB) with quality close to u2net",
	"isnet-general-use": "IS-Net general model, sharper edges on complex subjects",
}

// ModelCatalog is the fixed allow-list of segmentation models.
type ModelCatalog struct {
	defaultModel string
}

// NewModelCatalog uses preferred as the default when it is a known model.
func NewModelCatalog(preferred string) ModelCatalog {
	if _, ok := modelDescriptions[preferred]; ok {
		return ModelCatalog{defaultModel: preferred}
	}
	return ModelCatalog{defaultModel: DefaultModel}
}

func (c ModelCatalog) Default() string {
	if c.defaultModel == "" {
		return DefaultModel
	}
	return c.defaultModel
}

// Resolve maps a requested name to an allowed model. fellBack is true when
// a non-empty unknown name was replaced by the default.
func (c ModelCatalog) Resolve(name string) (model string, fellBack bool) {
	if name == "" {
		return c.Default(), false
	}
	if _, ok := modelDescriptions[name]; ok {
		return name, false
	}
	return c.Default(), true
}

func (c ModelCatalog) Names() []string {
	names := make([]string, 0, len(modelDescriptions))
	for name := range modelDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c ModelCatalog) Descriptions() map[string]string {
	out := make(map[string]string, len(modelDescriptions))
	for k, v := range modelDescriptions {
		out[k] = v
	}
	return out
}
