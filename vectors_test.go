package vectorcore

import (
	"encoding/json"
	"testing"

	"github.com/shibudb.org/vector-core/internal/vecindex"
)

func TestInsertThenGet(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 3, Metric: vecindex.MetricCosine})

	entry, err := s.Insert("run-1", "docs", "doc-1", []float32{1, 2, 3}, json.RawMessage(`{"type":"doc"}`))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if entry.Version != 1 {
		t.Errorf("expected version 1 on first insert, got %d", entry.Version)
	}

	got, ok, err := s.Get("run-1", "docs", "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected vector to be found")
	}
	if got.Embedding[0] != 1 || got.Embedding[1] != 2 || got.Embedding[2] != 3 {
		t.Errorf("unexpected embedding %v", got.Embedding)
	}
	if string(got.Metadata) != `{"type":"doc"}` {
		t.Errorf("unexpected metadata %s", got.Metadata)
	}
}

func TestReinsertSameKeyReusesVectorIDAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})

	first, err := s.Insert("run-1", "docs", "k", []float32{1, 1}, nil)
	if err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	second, err := s.Insert("run-1", "docs", "k", []float32{2, 2}, nil)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if second.VectorID != first.VectorID {
		t.Errorf("expected same VectorId on re-insert, got %d vs %d", first.VectorID, second.VectorID)
	}
	if second.Version != 2 {
		t.Errorf("expected version 2, got %d", second.Version)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Errorf("expected created_at preserved across re-insert")
	}
}

func TestInsertValidatesKeyAndEmbedding(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})

	if _, err := s.Insert("run-1", "docs", "", []float32{1, 1}, nil); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := s.Insert("run-1", "docs", "k", nil, nil); err == nil {
		t.Error("expected error for empty embedding")
	}
	if _, err := s.Insert("run-1", "docs", "k", []float32{1}, nil); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestInsertIntoMissingCollection(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Insert("run-1", "ghost", "k", []float32{1}, nil); err == nil {
		t.Fatal("expected CollectionNotFound error")
	}
}

func TestGetMissingKeyReturnsFalseNoError(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	_, ok, err := s.Get("run-1", "docs", "ghost")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	s.Insert("run-1", "docs", "k", []float32{1, 1}, nil)

	deleted, err := s.Delete("run-1", "docs", "k")
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := s.Get("run-1", "docs", "k"); ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	deleted, err := s.Delete("run-1", "docs", "ghost")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false for missing key")
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: 2})
	s.Insert("run-1", "docs", "a", []float32{1, 1}, nil)
	s.Insert("run-1", "docs", "b", []float32{2, 2}, nil)

	n, err := s.Count("run-1", "docs")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}

	s.Delete("run-1", "docs", "a")
	n, _ = s.Count("run-1", "docs")
	if n != 1 {
		t.Errorf("expected count 1 after delete, got %d", n)
	}
}

// Deleting a key and inserting a new one must not reuse the deleted
// vector's id, even though the new insert goes into the freed slot.
func TestMonotonicityAcrossSlotReuse(t *testing.T) {
	s := newTestStore(t)
	dim := 384
	embA := make([]float32, dim)
	embB := make([]float32, dim)
	for i := range embA {
		embA[i] = 0.1
		embB[i] = 0.2
	}
	s.CreateCollection("run-1", "docs", CollectionConfig{Dimension: dim, Metric: vecindex.MetricCosine})

	a, err := s.Insert("run-1", "docs", "a", embA, nil)
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.Delete("run-1", "docs", "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	b, err := s.Insert("run-1", "docs", "b", embB, nil)
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}

	if !(a.VectorID < b.VectorID) {
		t.Errorf("expected a.VectorID < b.VectorID, got %d vs %d", a.VectorID, b.VectorID)
	}
	if _, ok, _ := s.Get("run-1", "docs", "a"); ok {
		t.Error("expected a to be gone")
	}
	got, ok, _ := s.Get("run-1", "docs", "b")
	if !ok || got.Embedding[0] < 0.19 || got.Embedding[0] > 0.21 {
		t.Errorf("expected b's embedding[0] ~= 0.2, got %v (ok=%v)", got.Embedding, ok)
	}
}
