package vectorcore

import (
	"encoding/json"

	"github.com/shibudb.org/vector-core/internal/hostshim/kv"
	"github.com/shibudb.org/vector-core/internal/vecwal"
)

// Insert upserts embedding under key: a re-insert of an existing key reuses
// its stored VectorId and bumps version/updated_at, a new key assigns the
// next VectorId.
func (s *Store) Insert(runID, name, key string, embedding []float32, metadata json.RawMessage) (VectorEntry, error) {
	if err := validateKey(key); err != nil {
		return VectorEntry{}, err
	}
	if len(embedding) == 0 {
		return VectorEntry{}, errEmptyEmbedding()
	}

	state, err := s.getState(runID, name)
	if err != nil {
		return VectorEntry{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if len(embedding) != state.config.Dimension {
		return VectorEntry{}, errDimensionMismatch(state.config.Dimension, len(embedding))
	}

	vkey := vectorKey(runID, name, key)
	existing, err := s.kv.Get(vkey)
	var id uint64
	var version uint64
	var createdAt int64
	ts := now()

	switch {
	case err == kv.ErrNotFound:
		id, err = state.backend.Heap().Insert(embedding)
		if err != nil {
			return VectorEntry{}, errInternal("allocate vector id", err)
		}
		version = 1
		createdAt = ts
	case err != nil:
		return VectorEntry{}, errStorage("read existing vector record", err)
	default:
		var rec vectorRecord
		if jerr := json.Unmarshal(existing, &rec); jerr != nil {
			return VectorEntry{}, errSerialization("decode existing vector record", jerr)
		}
		id = rec.VectorID
		version = rec.Version + 1
		createdAt = rec.CreatedAt
		if uerr := state.backend.Heap().Upsert(id, embedding); uerr != nil {
			return VectorEntry{}, errInternal("overwrite existing vector", uerr)
		}
	}

	payload := vecwal.EncodeVectorUpsert(vecwal.VectorUpsert{
		RunID: runID, CollectionName: name, UserKey: key,
		VectorID: id, Embedding: embedding, Metadata: metadata, TimestampMicros: ts,
	})
	if err := s.writeWALEntry(vecwal.EntryVectorUpsert, payload); err != nil {
		return VectorEntry{}, err
	}

	rec := vectorRecord{VectorID: id, Metadata: metadata, Version: version, CreatedAt: createdAt, UpdatedAt: ts}
	raw, merr := json.Marshal(rec)
	if merr != nil {
		return VectorEntry{}, errInternal("marshal vector record", merr)
	}
	if err := s.kv.Put(vkey, raw); err != nil {
		return VectorEntry{}, errStorage("persist vector record", err)
	}
	state.idToKey[id] = key

	return VectorEntry{
		Key: key, VectorID: id, Embedding: embedding, Metadata: metadata,
		Version: version, CreatedAt: createdAt, UpdatedAt: ts,
	}, nil
}

// Get resolves key to its current VectorEntry, if present.
func (s *Store) Get(runID, name, key string) (VectorEntry, bool, error) {
	state, err := s.getState(runID, name)
	if err != nil {
		return VectorEntry{}, false, err
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	raw, err := s.kv.Get(vectorKey(runID, name, key))
	if err == kv.ErrNotFound {
		return VectorEntry{}, false, nil
	}
	if err != nil {
		return VectorEntry{}, false, errStorage("read vector record", err)
	}
	var rec vectorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return VectorEntry{}, false, errSerialization("decode vector record", err)
	}
	embedding, ok := state.backend.Get(rec.VectorID)
	if !ok {
		return VectorEntry{}, false, errInternal("key resolves to a KV record with no live heap entry", nil)
	}
	return VectorEntry{
		Key: key, VectorID: rec.VectorID, Embedding: append([]float32(nil), embedding...),
		Metadata: rec.Metadata, Version: rec.Version, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}, true, nil
}

// Delete removes key, reporting whether it was present.
func (s *Store) Delete(runID, name, key string) (bool, error) {
	state, err := s.getState(runID, name)
	if err != nil {
		return false, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	vkey := vectorKey(runID, name, key)
	raw, err := s.kv.Get(vkey)
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errStorage("read vector record", err)
	}
	var rec vectorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, errSerialization("decode vector record", err)
	}

	payload := vecwal.EncodeVectorDelete(vecwal.VectorDelete{
		RunID: runID, CollectionName: name, UserKey: key, VectorID: rec.VectorID, TimestampMicros: now(),
	})
	if err := s.writeWALEntry(vecwal.EntryVectorDelete, payload); err != nil {
		return false, err
	}

	state.backend.Heap().Delete(rec.VectorID)
	if _, err := s.kv.Delete(vkey); err != nil {
		return false, errStorage("delete vector record", err)
	}
	delete(state.idToKey, rec.VectorID)
	return true, nil
}

// Count returns the number of live vectors in (run_id, name). The heap is
// the sole source of truth for liveness, so this never consults KV.
func (s *Store) Count(runID, name string) (int, error) {
	state, err := s.getState(runID, name)
	if err != nil {
		return 0, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.backend.Len(), nil
}
