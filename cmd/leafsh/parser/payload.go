// Grounded on docdb/cmd/docdbsh/parser/payload.go's prefix-tagged
// payload decoder. leafsh documents are JSON objects, not opaque byte
// blobs, so the hex: prefix (meaningful only for binary payloads) is
// dropped; raw: and json: survive, reinterpreted as JSON value/object
// decoders instead of []byte decoders.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeValue parses one shell argument into a Go value suitable for
// a document field: raw:"..." for a bare string, json:<value> for any
// JSON value (number, bool, null, array, object).
func DecodeValue(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	switch {
	case strings.HasPrefix(s, "raw:"):
		return decodeRaw(s[len("raw:"):]), nil
	case strings.HasPrefix(s, "json:"):
		return decodeJSON(s[len("json:"):])
	default:
		return nil, fmt.Errorf("value must have prefix: raw: or json:")
	}
}

// DecodeDocument parses s the same way as DecodeValue, then requires
// the result to be a JSON object: a leafdb document is always one.
func DecodeDocument(s string) (map[string]interface{}, error) {
	v, err := DecodeValue(s)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document payload must decode to a JSON object, got %T", v)
	}
	return obj, nil
}

func decodeRaw(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

func decodeJSON(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return v, nil
}
