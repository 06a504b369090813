package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tbxark/jobfill/types"
)

type operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Pointer converts a dotted profile path into an RFC 6901 JSON pointer.
func Pointer(path string) string {
	var b strings.Builder
	for _, seg := range types.Segments(path) {
		seg = strings.ReplaceAll(seg, "~", "~0")
		seg = strings.ReplaceAll(seg, "/", "~1")
		b.WriteString("/")
		b.WriteString(seg)
	}
	return b.String()
}

// ApplyWrite returns a copy of doc with value stored at path. Missing parents
// are created; an existing value is replaced. doc is left untouched when the
// patch fails.
func ApplyWrite(doc types.ProfileNode, path string, value any) (types.ProfileNode, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("profile: empty path")
	}
	if doc == nil {
		doc = types.ProfileNode{}
	}
	current, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	op := operation{Op: "add", Path: Pointer(path), Value: value}
	var decoded any
	if err := sonic.Unmarshal(current, &decoded); err == nil && pathExists(decoded, op.Path) {
		op.Op = "replace"
	}
	patchJSON, err := sonic.Marshal([]operation{op})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch operations: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}
	options := jsonpatch.NewApplyOptions()
	options.EnsurePathExistsOnAdd = true
	modified, err := patch.ApplyWithOptions(current, options)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch at %s: %w", path, err)
	}

	var result types.ProfileNode
	if err := sonic.Unmarshal(modified, &result); err != nil {
		return nil, fmt.Errorf("failed to decode patched profile: %w", err)
	}
	return result, nil
}

func pathExists(doc any, pointer string) bool {
	if pointer == "" {
		return true
	}
	cur := doc
	for _, token := range strings.Split(pointer[1:], "/") {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		switch node := cur.(type) {
		case map[string]any:
			value, ok := node[token]
			if !ok {
				return false
			}
			cur = value
		case []any:
			index, err := strconv.Atoi(token)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			cur = node[index]
		default:
			return false
		}
	}
	return true
}
