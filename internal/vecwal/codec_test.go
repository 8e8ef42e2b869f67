package vecwal

import (
	"encoding/json"
	"testing"
)

func TestCollectionCreateRoundTrip(t *testing.T) {
	want := CollectionCreate{
		RunID:           "run-1",
		CollectionName:  "docs",
		Dimension:       384,
		Metric:          1,
		Dtype:           0,
		TimestampMicros: 1234567890,
	}
	got, err := DecodeCollectionCreate(EncodeCollectionCreate(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestCollectionDeleteRoundTrip(t *testing.T) {
	want := CollectionDelete{RunID: "r", CollectionName: "c", TimestampMicros: 42}
	got, err := DecodeCollectionDelete(EncodeCollectionDelete(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestVectorUpsertRoundTripWithMetadata(t *testing.T) {
	want := VectorUpsert{
		RunID:           "run-1",
		CollectionName:  "docs",
		UserKey:         "doc-42",
		VectorID:        7,
		Embedding:       []float32{0.1, -0.2, 3.5},
		Metadata:        json.RawMessage(`{"type":"doc"}`),
		TimestampMicros: 99,
	}
	got, err := DecodeVectorUpsert(EncodeVectorUpsert(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != want.RunID || got.CollectionName != want.CollectionName || got.UserKey != want.UserKey ||
		got.VectorID != want.VectorID || got.TimestampMicros != want.TimestampMicros {
		t.Errorf("scalar fields mismatch: got %+v want %+v", got, want)
	}
	if len(got.Embedding) != len(want.Embedding) {
		t.Fatalf("embedding length mismatch")
	}
	for i := range want.Embedding {
		if got.Embedding[i] != want.Embedding[i] {
			t.Errorf("embedding[%d]: expected %v, got %v", i, want.Embedding[i], got.Embedding[i])
		}
	}
	if string(got.Metadata) != string(want.Metadata) {
		t.Errorf("metadata mismatch: got %s want %s", got.Metadata, want.Metadata)
	}
}

func TestVectorUpsertRoundTripWithoutMetadata(t *testing.T) {
	want := VectorUpsert{
		RunID:           "run-1",
		CollectionName:  "docs",
		UserKey:         "doc-1",
		VectorID:        1,
		Embedding:       []float32{1, 2},
		TimestampMicros: 1,
	}
	got, err := DecodeVectorUpsert(EncodeVectorUpsert(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Metadata != nil {
		t.Errorf("expected nil metadata, got %s", got.Metadata)
	}
}

func TestVectorDeleteRoundTrip(t *testing.T) {
	want := VectorDelete{RunID: "r", CollectionName: "c", UserKey: "k", VectorID: 9, TimestampMicros: 5}
	got, err := DecodeVectorDelete(EncodeVectorDelete(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestDecodeTruncatedPayloadErrors(t *testing.T) {
	full := EncodeVectorUpsert(VectorUpsert{
		RunID: "r", CollectionName: "c", UserKey: "k", VectorID: 1,
		Embedding: []float32{1, 2, 3},
	})
	if _, err := DecodeVectorUpsert(full[:len(full)-2]); err == nil {
		t.Errorf("expected error decoding truncated payload")
	}
}
