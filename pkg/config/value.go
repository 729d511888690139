package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// lookupPath walks a dotted path through nested mappings, returning the
// value at the end of the path.
func lookupPath(root any, path string) (any, bool) {
	cur := root

	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

// renderValue converts a configuration value into the string form used
// for template substitution. Scalars render in their natural notation,
// null as the empty string, and collections as embedded YAML.
func renderValue(v any) (string, error) {
	switch tv := v.(type) {
	case nil:
		return "", nil
	case string:
		return tv, nil
	case bool:
		return strconv.FormatBool(tv), nil
	case int:
		return strconv.Itoa(tv), nil
	case int64:
		return strconv.FormatInt(tv, 10), nil
	case uint64:
		return strconv.FormatUint(tv, 10), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	default:
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}

		return strings.TrimRight(string(out), "\n"), nil
	}
}

// deepMerge merges overlay over base, descending into mappings. Overlay
// sequences and scalars replace the base value outright.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))

	for k, v := range base {
		out[k] = v
	}

	for k, v := range overlay {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}

		out[k] = v
	}

	return out
}

func stringSlice(v any) []string {
	seq, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string

	for _, e := range seq {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func stringAt(root any, path string) string {
	v, ok := lookupPath(root, path)
	if !ok {
		return ""
	}

	s, _ := v.(string)
	return s
}
