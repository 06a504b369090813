package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ProfileNode is a nested user profile document. Values are scalars, nested
// ProfileNodes (or map[string]any from decoded JSON) and lists.
type ProfileNode map[string]any

// FlatProfile maps dotted paths to scalar values.
type FlatProfile map[string]any

const PathSeparator = "."

// Flatten walks node depth first. Lists of objects get numeric index
// segments, lists of scalars collapse into one comma separated value.
func Flatten(node ProfileNode) FlatProfile {
	out := make(FlatProfile)
	flattenInto(out, "", map[string]any(node))
	return out
}

func flattenInto(out FlatProfile, prefix string, node map[string]any) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + PathSeparator + key
		}
		flattenValue(out, path, value)
	}
}

func flattenValue(out FlatProfile, path string, value any) {
	switch v := value.(type) {
	case ProfileNode:
		flattenInto(out, path, v)
	case map[string]any:
		flattenInto(out, path, v)
	case []any:
		if len(v) > 0 && isObject(v[0]) {
			for i, item := range v {
				flattenValue(out, path+PathSeparator+strconv.Itoa(i), item)
			}
			return
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := FormatScalar(item); s != "" {
				parts = append(parts, s)
			}
		}
		out[path] = strings.Join(parts, ", ")
	case []string:
		out[path] = strings.Join(v, ", ")
	default:
		out[path] = v
	}
}

func isObject(v any) bool {
	switch v.(type) {
	case ProfileNode, map[string]any:
		return true
	}
	return false
}

// Paths returns every path in lexicographic order.
func (p FlatProfile) Paths() []string {
	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Lookup returns the stringified value at path and whether it is non-empty.
func (p FlatProfile) Lookup(path string) (string, bool) {
	v, ok := p[path]
	if !ok {
		return "", false
	}
	s := FormatScalar(v)
	return s, strings.TrimSpace(s) != ""
}

// Clone returns a shallow copy.
func (p FlatProfile) Clone() FlatProfile {
	out := make(FlatProfile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// Leaf returns the last non-index segment of path.
func Leaf(path string) string {
	segs := Segments(path)
	for i := len(segs) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(segs[i]); err != nil {
			return segs[i]
		}
	}
	return path
}

func IsEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(FormatScalar(v)) == ""
}

// FormatScalar renders a profile scalar the way it is typed into a form.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
