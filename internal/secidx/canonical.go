package secidx

import (
	"fmt"
	"strconv"

	"github.com/leafdb/leafdb/internal/types"
)

// recordSeparator joins composite-key components. U+241E was chosen
// because it does not occur in ordinary JSON string data.
const recordSeparator = "␞"

// numericOffset and numericWidth implement the num key-type contract:
// canonical_num(a) < canonical_num(b) lexicographically for all
// integers a<b within ±10^12 (spec §3 "canonical key encoding", P7).
// canonicalNumber truncates toward zero first, so non-integers that
// share an integer part get the same key.
const (
	numericOffset = 1_000_000_000_000
	numericWidth  = 20
)

// Canonical encodes a single field value for secondary-index storage,
// honoring the field's declared key type.
func Canonical(v types.Value, keyType types.KeyType) string {
	switch keyType {
	case types.KeyNumber:
		return canonicalNumber(v)
	case types.KeyDate:
		return canonicalDate(v)
	case types.KeyString:
		return canonicalString(v)
	default:
		return canonicalAuto(v)
	}
}

func canonicalNumber(v types.Value) string {
	if v.Kind != types.KindNumber {
		return canonicalAuto(v)
	}
	shifted := int64(v.Number) + numericOffset
	return fmt.Sprintf("%0*d", numericWidth, shifted)
}

func canonicalDate(v types.Value) string {
	if v.Kind != types.KindString {
		return canonicalAuto(v)
	}
	return v.Str
}

func canonicalString(v types.Value) string {
	if v.Kind == types.KindNull {
		return ""
	}
	return stringForm(v)
}

// canonicalAuto dispatches on the Value's own kind: numbers use the
// numeric encoding, everything else falls back to its string form.
func canonicalAuto(v types.Value) string {
	switch v.Kind {
	case types.KindNull:
		return ""
	case types.KindNumber:
		return canonicalNumber(v)
	default:
		return stringForm(v)
	}
}

func stringForm(v types.Value) string {
	switch v.Kind {
	case types.KindString:
		return v.Str
	case types.KindBool:
		return strconv.FormatBool(v.Bool)
	case types.KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	default:
		return ""
	}
}

// CompositeKey joins per-field canonical components with the record
// separator (spec §3 "Composite").
func CompositeKey(components []string) string {
	out := components[0]
	for _, c := range components[1:] {
		out += recordSeparator + c
	}
	return out
}
