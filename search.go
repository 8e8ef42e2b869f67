package vectorcore

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/shibudb.org/vector-core/internal/hostshim/kv"
)

// f64Epsilon bounds numeric equality in MetadataFilter comparisons.
const f64Epsilon = 1e-9

// overfetchFactor is the over-fetch multiplier applied when a metadata
// filter is present, so post-filtering still has a chance to return k
// results.
const overfetchFactor = 3

// MetadataFilter is a conjunction of top-level {field: scalar} equality
// predicates: every named field must be present in the record's metadata
// object and compare equal.
type MetadataFilter map[string]interface{}

func matchesFilter(metadata json.RawMessage, filter MetadataFilter) bool {
	if len(filter) == 0 {
		return true
	}
	if len(metadata) == 0 {
		return false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(metadata, &obj); err != nil {
		return false // metadata isn't a JSON object; filter can never match
	}
	for field, want := range filter {
		got, ok := obj[field]
		if !ok {
			return false
		}
		if !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(got, want interface{}) bool {
	gf, gIsNum := got.(float64)
	wf, wIsNum := want.(float64)
	if gIsNum && wIsNum {
		return math.Abs(gf-wf) < f64Epsilon
	}
	if got == nil || want == nil {
		return got == want
	}
	gb, gIsBool := got.(bool)
	wb, wIsBool := want.(bool)
	if gIsBool && wIsBool {
		return gb == wb
	}
	gs, gIsStr := got.(string)
	ws, wIsStr := want.(string)
	if gIsStr && wIsStr {
		return gs == ws
	}
	return false
}

// Search returns up to k matches for query, ordered by (-score, key
// ascending). When filter is non-empty, the backend is
// over-fetched so that filtering in-process still has a chance to return
// k results; the facade always re-sorts by its own (score, key) tie-break
// regardless of filter, since the backend's tie-break is by VectorId, an
// internal detail the facade never exposes.
func (s *Store) Search(runID, name string, query []float32, k int, filter MetadataFilter) ([]VectorMatch, error) {
	if k > defaultSearchLimit {
		return nil, errSearchLimitExceeded(k, defaultSearchLimit)
	}

	state, err := s.getState(runID, name)
	if err != nil {
		return nil, err
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	if len(query) != state.config.Dimension {
		return nil, errDimensionMismatch(state.config.Dimension, len(query))
	}
	if k <= 0 {
		return []VectorMatch{}, nil
	}

	fetchN := k
	if len(filter) > 0 {
		fetchN = k * overfetchFactor
	}

	backendMatches := state.backend.Search(query, fetchN)

	out := make([]VectorMatch, 0, len(backendMatches))
	for _, bm := range backendMatches {
		entry, err := s.resolveMatch(runID, name, state, bm.ID)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(entry.Metadata, filter) {
			continue
		}
		out = append(out, VectorMatch{Entry: entry, Score: bm.Score})
	}

	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Score, out[j].Score
		if si != sj {
			if si > sj {
				return true
			}
			if si < sj {
				return false
			}
		}
		return out[i].Entry.Key < out[j].Entry.Key
	})

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) resolveMatch(runID, name string, state *collectionState, id uint64) (VectorEntry, error) {
	key, ok := state.idToKey[id]
	if !ok {
		return VectorEntry{}, errInternal("live vector id has no key in the collection's key index", nil)
	}
	raw, err := s.kv.Get(vectorKey(runID, name, key))
	if err == kv.ErrNotFound {
		return VectorEntry{}, errInternal("key index names a vector record absent from KV", nil)
	}
	if err != nil {
		return VectorEntry{}, errStorage("read vector record during search", err)
	}
	var rec vectorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return VectorEntry{}, errSerialization("decode vector record during search", err)
	}
	embedding, _ := state.backend.Get(id)
	return VectorEntry{
		Key: key, VectorID: id, Embedding: embedding, Metadata: rec.Metadata,
		Version: rec.Version, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}, nil
}

// SearchMode selects which surface of the host's hybrid search a request
// targets. Only Vector is implemented
// by this primitive; Keyword is another primitive's concern entirely, so
// search_request returns an empty response for it rather than erroring.
type SearchMode int

const (
	SearchModeVector SearchMode = iota
	SearchModeKeyword
)

// SearchRequest is the host-search-surface adapter's input.
type SearchRequest struct {
	RunID          string
	CollectionName string
	Query          []float32
	K              int
	Filter         MetadataFilter
	Mode           SearchMode
}

// DocumentRef wraps one search match as the host's document-reference
// shape: just enough to let the host resolve back to its own document
// store, without leaking the internal VectorId.
type DocumentRef struct {
	Key      string
	Score    float64
	Metadata json.RawMessage
}

// SearchResponse is search_request's output.
type SearchResponse struct {
	Documents []DocumentRef
}

// SearchRequestAdapter runs req against the facade, returning an empty
// response for Keyword-only mode, which is another primitive's surface.
func (s *Store) SearchRequestAdapter(req SearchRequest) (SearchResponse, error) {
	if req.Mode == SearchModeKeyword {
		return SearchResponse{}, nil
	}
	matches, err := s.Search(req.RunID, req.CollectionName, req.Query, req.K, req.Filter)
	if err != nil {
		return SearchResponse{}, err
	}
	docs := make([]DocumentRef, len(matches))
	for i, m := range matches {
		docs[i] = DocumentRef{Key: m.Entry.Key, Score: m.Score, Metadata: m.Entry.Metadata}
	}
	return SearchResponse{Documents: docs}, nil
}
