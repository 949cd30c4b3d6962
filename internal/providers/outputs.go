package providers

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultOutputName is used when a backend returns a single unnamed output.
const DefaultOutputName = "output"

var urlFields = []string{"url", "image", "image_url", "output_url", "uri", "data"}

// ExtractOutputs collects named output locations from a decoded JSON value.
// It accepts a bare string, a list of strings or objects, or an object keyed
// by output name.
func ExtractOutputs(v any) map[string]string {
	out := map[string]string{}
	collectOutputs(out, DefaultOutputName, v, true)
	if len(out) == 0 {
		return nil
	}
	return out
}

func collectOutputs(out map[string]string, name string, v any, top bool) {
	switch node := v.(type) {
	case string:
		if isLocation(node) {
			out[uniqueName(out, name)] = strings.TrimSpace(node)
		}
	case []any:
		if len(node) == 1 {
			collectOutputs(out, name, node[0], false)
			return
		}
		for i, item := range node {
			collectOutputs(out, fmt.Sprintf("%s_%d", name, i), item, false)
		}
	case map[string]any:
		for _, field := range urlFields {
			if s, ok := node[field].(string); ok && isLocation(s) {
				out[uniqueName(out, name)] = strings.TrimSpace(s)
				return
			}
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if !top {
				child = name + "_" + k
			}
			collectOutputs(out, child, node[k], false)
		}
	}
}

func isLocation(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:")
}

func uniqueName(out map[string]string, name string) string {
	if _, taken := out[name]; !taken {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, taken := out[candidate]; !taken {
			return candidate
		}
	}
}
