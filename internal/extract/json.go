package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// extractJSON flattens a JSON document into "path: value" lines in key order.
// Top-level string arrays and strings are emitted without a path.
func extractJSON(content []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse JSON: %w", err)
	}
	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(path string, v any, lines *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if path != "" {
				p = path + "." + k
			}
			flattenJSON(p, t[k], lines)
		}
	case []any:
		for i, item := range t {
			p := path
			if _, scalar := item.(string); !scalar || path != "" {
				p = path + "[" + strconv.Itoa(i) + "]"
			}
			flattenJSON(p, item, lines)
		}
	case nil:
	default:
		s := fmt.Sprint(t)
		if path == "" {
			*lines = append(*lines, s)
			return
		}
		*lines = append(*lines, path+": "+s)
	}
}
