package vecsnapshot

import (
	"encoding/json"
	"testing"
)

func sampleCollection() Collection {
	return Collection{
		RunID:     "run-1",
		Name:      "docs",
		Dimension: 3,
		Metric:    0,
		Dtype:     0,
		NextID:    5,
		FreeSlots: []uint64{1, 3},
		Vectors: []VectorRecord{
			{VectorID: 0, Key: "a", Embedding: []float32{0.1, 0.2, 0.3}},
			{VectorID: 2, Key: "b", Embedding: []float32{1, 2, 3}, Metadata: json.RawMessage(`{"kind":"x"}`)},
			{VectorID: 4, Key: "c", Embedding: []float32{-1, -2, -3}},
		},
	}
}

func TestRoundTripSingleCollection(t *testing.T) {
	want := sampleCollection()
	blob := Encode([]Collection{want})

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 collection, got %d", len(got))
	}
	c := got[0]
	if c.RunID != want.RunID || c.Name != want.Name || c.Dimension != want.Dimension ||
		c.Metric != want.Metric || c.Dtype != want.Dtype || c.NextID != want.NextID {
		t.Errorf("header mismatch: got %+v want %+v", c, want)
	}
	if len(c.FreeSlots) != len(want.FreeSlots) {
		t.Fatalf("free slot count mismatch")
	}
	for i := range want.FreeSlots {
		if c.FreeSlots[i] != want.FreeSlots[i] {
			t.Errorf("free slot %d: got %d want %d", i, c.FreeSlots[i], want.FreeSlots[i])
		}
	}
	if len(c.Vectors) != len(want.Vectors) {
		t.Fatalf("vector count mismatch")
	}
	for i, v := range want.Vectors {
		got := c.Vectors[i]
		if got.VectorID != v.VectorID || got.Key != v.Key {
			t.Errorf("vector %d mismatch: got %+v want %+v", i, got, v)
		}
		for j := range v.Embedding {
			if got.Embedding[j] != v.Embedding[j] {
				t.Errorf("vector %d embedding[%d]: got %v want %v", i, j, got.Embedding[j], v.Embedding[j])
			}
		}
		if string(got.Metadata) != string(v.Metadata) {
			t.Errorf("vector %d metadata: got %s want %s", i, got.Metadata, v.Metadata)
		}
	}
}

func TestEncodeOrdersCollectionsByRunIDThenName(t *testing.T) {
	c1 := Collection{RunID: "run-2", Name: "alpha", Dimension: 1}
	c2 := Collection{RunID: "run-1", Name: "zeta", Dimension: 1}
	c3 := Collection{RunID: "run-1", Name: "alpha", Dimension: 1}

	blob := Encode([]Collection{c1, c2, c3})
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 collections, got %d", len(got))
	}
	want := []struct{ runID, name string }{
		{"run-1", "alpha"},
		{"run-1", "zeta"},
		{"run-2", "alpha"},
	}
	for i, w := range want {
		if got[i].RunID != w.runID || got[i].Name != w.name {
			t.Errorf("position %d: expected (%s,%s), got (%s,%s)", i, w.runID, w.name, got[i].RunID, got[i].Name)
		}
	}
}

func TestEncodeIsDeterministicAcrossInputOrder(t *testing.T) {
	a := Collection{RunID: "r", Name: "a", Dimension: 1}
	b := Collection{RunID: "r", Name: "b", Dimension: 1}

	blob1 := Encode([]Collection{a, b})
	blob2 := Encode([]Collection{b, a})
	if string(blob1) != string(blob2) {
		t.Errorf("encoding order should not depend on input slice order")
	}
}

func TestEmptyCollectionListRoundTrips(t *testing.T) {
	blob := Encode(nil)
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected 0 collections, got %d", len(got))
	}
}

func TestCollectionWithNoVectorsRoundTrips(t *testing.T) {
	c := Collection{RunID: "r", Name: "empty", Dimension: 8, NextID: 0, FreeSlots: nil}
	got, err := Decode(Encode([]Collection{c}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || len(got[0].Vectors) != 0 {
		t.Errorf("expected one empty collection, got %+v", got)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	blob := Encode([]Collection{sampleCollection()})
	blob[0] = 0xFF
	_, err := Decode(blob)
	if err == nil {
		t.Fatal("expected error decoding unknown version byte")
	}
	if _, ok := err.(ErrUnknownVersion); !ok {
		t.Errorf("expected ErrUnknownVersion, got %T: %v", err, err)
	}
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	blob := Encode([]Collection{sampleCollection()})
	if _, err := Decode(blob[:len(blob)-5]); err == nil {
		t.Error("expected error decoding truncated blob")
	}
}

func TestDecodeRejectsEmptyBlob(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("expected error decoding empty blob")
	}
}
