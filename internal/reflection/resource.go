package reflection

import (
	"path/filepath"
	"strings"
)

var (
	pathKeys     = []string{"path", "file_path", "file", "filename"}
	tableKeys    = []string{"table", "table_name"}
	endpointKeys = []string{"url", "endpoint"}
)

// ResourceID derives the contended resource key from action inputs, or ""
// when the inputs name no resource.
func ResourceID(inputs map[string]any) string {
	if p := firstString(inputs, pathKeys...); p != "" {
		return "file:" + filepath.ToSlash(filepath.Clean(p))
	}
	if t := firstString(inputs, tableKeys...); t != "" {
		return "table:" + t
	}
	if u := firstString(inputs, endpointKeys...); u != "" {
		return "url:" + u
	}
	return firstString(inputs, "resource")
}

// firstString returns the first non-empty trimmed string value among keys.
func firstString(inputs map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := inputs[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
