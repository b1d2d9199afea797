// Package query implements the query planner and executor described
// in spec §4.4: strategy selection over where-clauses plus an
// orderBy/limit, backed by the secondary-index and record-log
// packages.
//
// The comparator trio below is grounded on
// docdb/internal/query/merge.go's compareValuesForOrder/extractField/
// toFloatOrder/toStringOrder, kept close to the original numeric-then-
// string fallback logic but retargeted from a raw JSON payload to
// types.Value, since leafdb documents are decoded once into that
// tagged union rather than re-parsed per comparison.
package query

import (
	"reflect"

	"github.com/leafdb/leafdb/internal/types"
)

// compareOrdered compares a and b by natural order. ok is false when
// the two values are not of comparable kinds (spec §4.4 "Non-
// comparable or null LHS values make the clause false").
func compareOrdered(a, b types.Value) (cmp int, ok bool) {
	if a.Kind == types.KindNull || b.Kind == types.KindNull {
		return 0, false
	}
	if a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case types.KindNumber:
		switch {
		case a.Number < b.Number:
			return -1, true
		case a.Number > b.Number:
			return 1, true
		default:
			return 0, true
		}
	case types.KindString:
		switch {
		case a.Str < b.Str:
			return -1, true
		case a.Str > b.Str:
			return 1, true
		default:
			return 0, true
		}
	case types.KindBool:
		if a.Bool == b.Bool {
			return 0, true
		}
		if !a.Bool && b.Bool {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

// valuesEqual reports whether a and b represent the same value. Used
// for the == operator, which (unlike the inequality operators) is
// defined for every kind, including arrays and objects.
func valuesEqual(a, b types.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case types.KindNull:
		return true
	case types.KindBool:
		return a.Bool == b.Bool
	case types.KindNumber:
		return a.Number == b.Number
	case types.KindString:
		return a.Str == b.Str
	default:
		return reflect.DeepEqual(a.ToInterface(), b.ToInterface())
	}
}

// matchClause evaluates one where-clause's operator semantics against
// a field's actual value (spec §4.4 "Operator semantics on raw
// values"). Missing fields behave as Null (types.Document.Field
// already returns Null for an absent key); a Null actual value never
// satisfies any clause.
func matchClause(actual types.Value, c types.WhereClause) bool {
	if actual.Kind == types.KindNull {
		return false
	}

	switch c.Op {
	case types.OpEqual:
		return valuesEqual(actual, types.FromInterface(c.Value))
	case types.OpGreaterEqual:
		cmp, ok := compareOrdered(actual, types.FromInterface(c.Value))
		return ok && cmp >= 0
	case types.OpGreater:
		cmp, ok := compareOrdered(actual, types.FromInterface(c.Value))
		return ok && cmp > 0
	case types.OpLessEqual:
		cmp, ok := compareOrdered(actual, types.FromInterface(c.Value))
		return ok && cmp <= 0
	case types.OpLess:
		cmp, ok := compareOrdered(actual, types.FromInterface(c.Value))
		return ok && cmp < 0
	case types.OpRange:
		lo, ok1 := compareOrdered(actual, types.FromInterface(c.Value))
		hi, ok2 := compareOrdered(actual, types.FromInterface(c.EndValue))
		return ok1 && ok2 && lo >= 0 && hi <= 0
	default:
		return false
	}
}

// matchAllClauses applies every clause to doc, ANDing the results.
func matchAllClauses(doc types.Document, clauses []types.WhereClause) bool {
	for _, c := range clauses {
		if !matchClause(doc.Field(c.Field), c) {
			return false
		}
	}
	return true
}

// compareForOrder orders two documents by spec (field, descending);
// used to sort full-scan and equality-intersection results in memory.
func compareForOrder(a, b types.Document, order *types.OrderBy) int {
	if order == nil {
		return 0
	}
	va := a.Field(order.Field)
	vb := b.Field(order.Field)
	cmp, ok := compareOrdered(va, vb)
	if !ok {
		// Fall back to comparing string forms so sort is at least
		// deterministic when kinds disagree (e.g. one side missing).
		sa, sb := stringifyForSort(va), stringifyForSort(vb)
		switch {
		case sa < sb:
			cmp = -1
		case sa > sb:
			cmp = 1
		default:
			cmp = 0
		}
	}
	if order.Descending {
		cmp = -cmp
	}
	return cmp
}

func stringifyForSort(v types.Value) string {
	switch v.Kind {
	case types.KindString:
		return v.Str
	default:
		return ""
	}
}
