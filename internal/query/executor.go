package query

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/leafdb/leafdb/internal/indexmgr"
	"github.com/leafdb/leafdb/internal/reclog"
	"github.com/leafdb/leafdb/internal/secidx"
	"github.com/leafdb/leafdb/internal/types"
)

// upperSentinel is the composite/range end-of-domain marker (spec §3
// "else U+FFFF").
const upperSentinel = "￿"

// Executor plans and runs queries against one collection's record log
// and index manager (spec §4.4).
type Executor struct {
	log     *reclog.RecordLog
	indexes *indexmgr.Manager
}

// New returns an Executor over log and indexes.
func New(log *reclog.RecordLog, indexes *indexmgr.Manager) *Executor {
	return &Executor{log: log, indexes: indexes}
}

// Execute runs desc through the planner's four-tier strategy and
// returns the materialized result (spec §4.4 "Result construction").
func (e *Executor) Execute(desc types.QueryDescriptor) (types.QuerySnapshot, error) {
	ids, err := e.plan(desc)
	if err != nil {
		return types.QuerySnapshot{}, err
	}

	docs := make([]types.Document, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		doc, ok, err := e.log.GetByID(id)
		if err != nil {
			return types.QuerySnapshot{}, err
		}
		if !ok {
			continue // stale posting, dropped silently
		}
		if !matchAllClauses(doc, desc.Where) {
			continue
		}
		docs = append(docs, doc)
	}

	if desc.OrderBy != nil {
		sort.SliceStable(docs, func(i, j int) bool {
			return compareForOrder(docs[i], docs[j], desc.OrderBy) < 0
		})
	}

	if desc.Limit > 0 && len(docs) > desc.Limit {
		docs = docs[:desc.Limit]
	}

	snap := types.QuerySnapshot{Docs: make([]types.DocumentSnapshot, len(docs))}
	for i, d := range docs {
		snap.Docs[i] = types.DocumentSnapshot{ID: d.ID(), Data: d, Exists: true}
	}
	return snap, nil
}

// plan selects the first eligible strategy, in the order given by
// spec §4.4 "Planning order", and returns the candidate id list
// (possibly a superset of the true result; Execute applies the final
// clause filter).
func (e *Executor) plan(desc types.QueryDescriptor) ([]string, error) {
	if ids, ok, err := e.planCompositeFullMatch(desc); err != nil {
		return nil, err
	} else if ok {
		return ids, nil
	}

	if ids, ok, err := e.planSingleFieldOrdered(desc); err != nil {
		return nil, err
	} else if ok {
		return ids, nil
	}

	if ids, ok, err := e.planEqualityIntersection(desc); err != nil {
		return nil, err
	} else if ok {
		return ids, nil
	}

	return e.planFullScan()
}

func rangeLimit(desc types.QueryDescriptor) int {
	if desc.Limit > 0 {
		return desc.Limit
	}
	return 0
}

// planCompositeFullMatch implements spec §4.4 strategy 1.
func (e *Executor) planCompositeFullMatch(desc types.QueryDescriptor) ([]string, bool, error) {
	clausesByField := make(map[string]types.WhereClause, len(desc.Where))
	for _, c := range desc.Where {
		clausesByField[c.Field] = c
	}

	metas := e.indexes.Metas()
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name() < metas[j].Name() })

	for _, meta := range metas {
		if len(meta.Fields) < 2 {
			continue
		}
		matched := true
		for _, f := range meta.Fields {
			if _, ok := clausesByField[f]; !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		startComponents := make([]string, len(meta.Fields))
		endComponents := make([]string, len(meta.Fields))
		for i, f := range meta.Fields {
			c := clausesByField[f]
			if c.Op == types.OpEqual || c.Op == types.OpGreaterEqual {
				startComponents[i] = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(i))
			}
			if c.Op == types.OpEqual || c.Op == types.OpLessEqual {
				endComponents[i] = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(i))
			} else if c.EndValue != nil {
				endComponents[i] = secidx.Canonical(types.FromInterface(c.EndValue), meta.KeyTypeFor(i))
			} else if c.Op != types.OpEqual && c.Op != types.OpLessEqual {
				endComponents[i] = upperSentinel
			}
		}

		idx, err := e.indexes.EnsureIndex(meta, true)
		if err != nil {
			return nil, false, err
		}

		ids := idx.GetRange(secidx.RangeOptions{
			Start: secidx.CompositeKey(startComponents), StartSet: true, StartInclusive: true,
			End: secidx.CompositeKey(endComponents), EndSet: true, EndInclusive: true,
			Limit: rangeLimit(desc),
		})
		return ids, true, nil
	}

	return nil, false, nil
}

// planSingleFieldOrdered implements spec §4.4 strategy 2.
func (e *Executor) planSingleFieldOrdered(desc types.QueryDescriptor) ([]string, bool, error) {
	if desc.OrderBy == nil {
		return nil, false, nil
	}
	field := desc.OrderBy.Field

	var meta types.IndexMeta
	found := false
	for _, m := range e.indexes.Metas() {
		if len(m.Fields) == 1 && m.Fields[0] == field && m.Ordered {
			meta = m
			found = true
			break
		}
	}
	if !found {
		return nil, false, nil
	}

	idx, err := e.indexes.EnsureIndex(meta, true)
	if err != nil {
		return nil, false, err
	}

	opts := secidx.RangeOptions{Limit: rangeLimit(desc)}
	for _, c := range desc.Where {
		if c.Field != field {
			continue
		}
		switch c.Op {
		case types.OpEqual:
			k := secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.Start, opts.StartSet, opts.StartInclusive = k, true, true
			opts.End, opts.EndSet, opts.EndInclusive = k, true, true
		case types.OpGreaterEqual:
			opts.Start = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.StartSet, opts.StartInclusive = true, true
		case types.OpGreater:
			opts.Start = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.StartSet, opts.StartInclusive = true, false
		case types.OpLessEqual:
			opts.End = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.EndSet, opts.EndInclusive = true, true
		case types.OpLess:
			opts.End = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.EndSet, opts.EndInclusive = true, false
		case types.OpRange:
			opts.Start = secidx.Canonical(types.FromInterface(c.Value), meta.KeyTypeFor(0))
			opts.StartSet, opts.StartInclusive = true, true
			opts.End = secidx.Canonical(types.FromInterface(c.EndValue), meta.KeyTypeFor(0))
			opts.EndSet, opts.EndInclusive = true, true
		}
		break
	}

	ids := idx.GetRange(opts)
	if desc.OrderBy.Descending {
		reverse(ids)
	}
	return ids, true, nil
}

// planEqualityIntersection implements spec §4.4 strategy 3.
func (e *Executor) planEqualityIntersection(desc types.QueryDescriptor) ([]string, bool, error) {
	var eqClauses []types.WhereClause
	for _, c := range desc.Where {
		if c.Op == types.OpEqual {
			eqClauses = append(eqClauses, c)
		}
	}
	if len(eqClauses) == 0 {
		return nil, false, nil
	}

	postings := make([][]string, len(eqClauses))
	var g errgroup.Group
	for i, c := range eqClauses {
		i, c := i, c
		g.Go(func() error {
			meta := types.IndexMeta{Fields: []string{c.Field}, KeyTypes: []types.KeyType{types.KeyAuto}}
			idx, err := e.indexes.EnsureIndex(meta, true)
			if err != nil {
				return err
			}
			postings[i] = idx.GetExact(secidx.Canonical(types.FromInterface(c.Value), types.KeyAuto))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	sort.Slice(postings, func(i, j int) bool { return len(postings[i]) < len(postings[j]) })

	result := postings[0]
	for _, list := range postings[1:] {
		result = intersect(result, list)
		if len(result) == 0 {
			break
		}
	}
	return result, true, nil
}

// planFullScan implements spec §4.4 strategy 4.
func (e *Executor) planFullScan() ([]string, error) {
	docs, err := e.log.ReadAllLive()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	return ids, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

func reverse(ids []string) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}
