package vectorcore

import (
	"encoding/json"
	"testing"

	"github.com/shibudb.org/vector-core/internal/vecindex"
)

func TestSearchDeterministicKeyTieBreak(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 3, Metric: vecindex.MetricDot})

	// All four vectors score identically against the query; facade order
	// must come out by key ascending, not by internal VectorId.
	s.Insert("run-1", "docs", "zeta", []float32{1, 0, 0}, nil)
	s.Insert("run-1", "docs", "alpha", []float32{1, 0, 0}, nil)
	s.Insert("run-1", "docs", "mid", []float32{1, 0, 0}, nil)
	s.Insert("run-1", "docs", "beta", []float32{1, 0, 0}, nil)

	matches, err := s.Search("run-1", "docs", []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(matches))
	}
	wantOrder := []string{"alpha", "beta", "mid", "zeta"}
	for i, key := range wantOrder {
		if matches[i].Entry.Key != key {
			t.Errorf("position %d: expected key %s, got %s", i, key, matches[i].Entry.Key)
		}
	}
}

func TestSearchMetadataFilterPostFilter(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2, Metric: vecindex.MetricDot})

	s.Insert("run-1", "docs", "d1", []float32{1, 0}, json.RawMessage(`{"type":"doc"}`))
	s.Insert("run-1", "docs", "i1", []float32{1, 0}, json.RawMessage(`{"type":"img"}`))
	s.Insert("run-1", "docs", "d2", []float32{1, 0}, json.RawMessage(`{"type":"doc"}`))

	matches, err := s.Search("run-1", "docs", []float32{1, 0}, 10, MetadataFilter{"type": "doc"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Entry.Key != "d1" || matches[1].Entry.Key != "d2" {
		t.Errorf("expected [d1, d2], got [%s, %s]", matches[0].Entry.Key, matches[1].Entry.Key)
	}
}

func TestSearchMetadataFilterNumericEpsilon(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 1, Metric: vecindex.MetricDot})
	s.Insert("run-1", "docs", "a", []float32{1}, json.RawMessage(`{"score":3.0000000001}`))

	matches, err := s.Search("run-1", "docs", []float32{1}, 10, MetadataFilter{"score": 3.0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected numeric filter to match within epsilon, got %d matches", len(matches))
	}
}

func TestSearchZeroVectorCosine(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 3, Metric: vecindex.MetricCosine})
	s.Insert("run-1", "docs", "v", []float32{0, 0, 0}, nil)

	matches, err := s.Search("run-1", "docs", []float32{1, 2, 3}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 0.0 {
		t.Errorf("expected score exactly 0.0 for zero-norm vector, got %+v", matches)
	}
}

func TestSearchValidatesDimension(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 3})
	if _, err := s.Search("run-1", "docs", []float32{1, 2}, 10, nil); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSearchKZeroReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	s.Insert("run-1", "docs", "a", []float32{1, 1}, nil)
	matches, err := s.Search("run-1", "docs", []float32{1, 1}, 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected 0 matches for k=0, got %d", len(matches))
	}
}

func TestSearchRequestAdapterKeywordModeIsEmpty(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	s.Insert("run-1", "docs", "a", []float32{1, 1}, nil)

	resp, err := s.SearchRequestAdapter(SearchRequest{
		RunID: "run-1", CollectionName: "docs", Query: []float32{1, 1}, K: 10, Mode: SearchModeKeyword,
	})
	if err != nil {
		t.Fatalf("SearchRequestAdapter: %v", err)
	}
	if len(resp.Documents) != 0 {
		t.Errorf("expected empty response for keyword mode, got %d documents", len(resp.Documents))
	}
}

func TestSearchRequestAdapterVectorModeWrapsDocuments(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2, Metric: vecindex.MetricDot})
	s.Insert("run-1", "docs", "a", []float32{1, 1}, json.RawMessage(`{"k":"v"}`))

	resp, err := s.SearchRequestAdapter(SearchRequest{
		RunID: "run-1", CollectionName: "docs", Query: []float32{1, 1}, K: 10, Mode: SearchModeVector,
	})
	if err != nil {
		t.Fatalf("SearchRequestAdapter: %v", err)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].Key != "a" {
		t.Fatalf("unexpected documents: %+v", resp.Documents)
	}
}
