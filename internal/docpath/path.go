// Package docpath implements the field-path helper behind
// DocumentRef.updatePath: a JSON-pointer-like walk over a document's
// object tree, trimmed to the subset leafdb's shallow-merge document
// model needs.
//
// Grounded on docdb/internal/docdb/path.go's ParsePath/SetValue, with
// array traversal removed: leafdb documents are merged shallowly (see
// DocumentRef.Set/Update) and have no concept of a positional array patch,
// so an array-index segment is rejected rather than silently
// misinterpreted.
package docpath

import (
	"strconv"
	"strings"

	"github.com/leafdb/leafdb/internal/errors"
)

// Parse splits a "/"-prefixed path into its segments, unescaping
// "~1" and "~0" as "/" and "~" respectively. An empty path yields no
// segments.
func Parse(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, errors.ErrInvalidPath
	}
	trimmed := path[1:]
	if trimmed == "" {
		return nil, nil
	}

	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = seg
		if _, err := strconv.Atoi(seg); err == nil {
			return nil, errors.ErrInvalidPath
		}
	}
	return segments, nil
}

// Set walks doc, creating intermediate objects as needed, and writes
// value at the final segment. doc must be a map (leafdb documents
// always are).
func Set(doc map[string]interface{}, segments []string, value interface{}) error {
	if len(segments) == 0 {
		return errors.ErrInvalidPath
	}

	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg]
		if !ok {
			child := make(map[string]interface{})
			current[seg] = child
			current = child
			continue
		}
		childMap, ok := next.(map[string]interface{})
		if !ok {
			child := make(map[string]interface{})
			current[seg] = child
			current = child
			continue
		}
		current = childMap
	}

	current[segments[len(segments)-1]] = value
	return nil
}
