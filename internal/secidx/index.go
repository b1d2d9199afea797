// Package secidx implements the in-memory ordered secondary index
// structure described in spec §4.2: a lexicographically sorted key
// list paired with per-key posting lists, supporting exact and
// range lookups by binary search.
//
// Grounded on docdb/internal/docdb/index.go's mutex discipline and
// ForEach/Snapshot idioms. The per-document-id sharding that file
// uses was dropped: there a single Index covers an entire LogicalDB,
// so sharding spreads contention; here one SecondaryIndex already is
// scoped to one field (or field tuple) of one collection, so a single
// sync.RWMutex is the right granularity.
package secidx

import (
	"encoding/json"
	"sort"
	"sync"
)

const defaultRangeLimit = 1000

// SecondaryIndex is a sorted set of canonical keys, each mapped to an
// ordered (insertion-order) list of document ids.
type SecondaryIndex struct {
	mu       sync.RWMutex
	keys     []string
	postings map[string][]string
}

// New returns an empty SecondaryIndex.
func New() *SecondaryIndex {
	return &SecondaryIndex{
		postings: make(map[string][]string),
	}
}

// Add inserts id under canonicalKey (spec §4.2 "add"). A key already
// present is not re-inserted into keys; ids are deduplicated within
// a posting list.
func (s *SecondaryIndex) Add(canonicalKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, exists := s.postings[canonicalKey]
	if !exists {
		pos := sort.SearchStrings(s.keys, canonicalKey)
		s.keys = append(s.keys, "")
		copy(s.keys[pos+1:], s.keys[pos:])
		s.keys[pos] = canonicalKey
		s.postings[canonicalKey] = []string{id}
		return
	}

	for _, existingID := range list {
		if existingID == id {
			return
		}
	}
	s.postings[canonicalKey] = append(list, id)
}

// Remove drops id from canonicalKey's posting list. If the list
// becomes empty, the key itself is removed (spec §4.2 "remove").
func (s *SecondaryIndex) Remove(canonicalKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, exists := s.postings[canonicalKey]
	if !exists {
		return
	}

	out := list[:0:0]
	for _, existingID := range list {
		if existingID != id {
			out = append(out, existingID)
		}
	}

	if len(out) == 0 {
		delete(s.postings, canonicalKey)
		pos := sort.SearchStrings(s.keys, canonicalKey)
		if pos < len(s.keys) && s.keys[pos] == canonicalKey {
			s.keys = append(s.keys[:pos], s.keys[pos+1:]...)
		}
		return
	}
	s.postings[canonicalKey] = out
}

// GetExact returns the posting list for canonicalKey, or an empty
// slice if absent (spec §4.2 "getExact").
func (s *SecondaryIndex) GetExact(canonicalKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.postings[canonicalKey]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// RangeOptions narrows a GetRange call. A bound applies only when its
// StartSet/EndSet flag is true: with StartSet false the range starts
// at the first key, with EndSet false it runs to the last key. A set
// bound of "" is a real bound, which is how an intentionally empty
// bound is told apart from "no bound given".
type RangeOptions struct {
	Start          string
	StartSet       bool
	StartInclusive bool
	End            string
	EndSet         bool
	EndInclusive   bool
	Limit          int
}

// GetRange locates the ordered-key slice between the given bounds via
// binary search, concatenates their posting lists in key order, and
// truncates to Limit (default 1000) (spec §4.2 "getRange").
func (s *SecondaryIndex) GetRange(opts RangeOptions) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRangeLimit
	}

	lo := 0
	if opts.StartSet {
		lo = sort.SearchStrings(s.keys, opts.Start)
		if !opts.StartInclusive {
			for lo < len(s.keys) && s.keys[lo] == opts.Start {
				lo++
			}
		}
	}

	hi := len(s.keys)
	if opts.EndSet {
		hi = sort.SearchStrings(s.keys, opts.End)
		if opts.EndInclusive {
			for hi < len(s.keys) && s.keys[hi] == opts.End {
				hi++
			}
		}
	}

	var out []string
	for i := lo; i < hi && i < len(s.keys); i++ {
		for _, id := range s.postings[s.keys[i]] {
			out = append(out, id)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// Len reports the number of distinct canonical keys currently held.
func (s *SecondaryIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// wireFormat mirrors the on-disk shape from spec §4.2 "Serialization".
type wireFormat struct {
	Keys     []string            `json:"keys"`
	Postings map[string][]string `json:"postings"`
}

// MarshalJSON serializes this index as {keys:[…], postings:{…}}.
func (s *SecondaryIndex) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	postings := make(map[string][]string, len(s.postings))
	for k, v := range s.postings {
		list := make([]string, len(v))
		copy(list, v)
		postings[k] = list
	}
	return json.Marshal(wireFormat{Keys: keys, Postings: postings})
}

// UnmarshalJSON rehydrates both the key list and posting map directly
// from the wire format, without replaying Add (spec §4.2 "Rehydration
// rebuilds both structures directly").
func (s *SecondaryIndex) UnmarshalJSON(data []byte) error {
	var w wireFormat
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = w.Keys
	if w.Postings == nil {
		w.Postings = make(map[string][]string)
	}
	s.postings = w.Postings
	return nil
}
