package vectorcore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shibudb.org/vector-core/internal/hostshim/kv"
	"github.com/shibudb.org/vector-core/internal/hostshim/kvindex"
	"github.com/shibudb.org/vector-core/internal/hostshim/snapshotfile"
	"github.com/shibudb.org/vector-core/internal/hostshim/wal"
	"github.com/shibudb.org/vector-core/internal/vecheap"
	"github.com/shibudb.org/vector-core/internal/vecrecovery"
	"github.com/shibudb.org/vector-core/internal/vecsnapshot"
	"github.com/shibudb.org/vector-core/internal/vlog"
)

var dbLogger = vlog.New("vectorcore")

// File names inside a DB directory.
const (
	kvDataFile   = "kv.data"
	kvIndexFile  = "kv.idx"
	walFile      = "wal.log"
	snapshotFile = "snapshot.bin"
)

// DB bundles a Store with the host files backing it: the KV data/index
// pair, the WAL, and the snapshot blob. Open recovers whatever is on disk;
// Checkpoint folds the WAL into a fresh snapshot; Close releases the
// files.
type DB struct {
	dir   string
	kv    *kv.Store
	wal   *wal.WAL
	store *Store
}

// Open opens (or creates) a database directory and recovers the vector
// state from its snapshot plus committed WAL suffix.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("vectorcore: create dir: %w", err)
	}

	idx, err := kvindex.Open(filepath.Join(dir, kvIndexFile))
	if err != nil {
		return nil, fmt.Errorf("vectorcore: open kv index: %w", err)
	}
	kvStore, err := kv.NewStore(filepath.Join(dir, kvDataFile), idx)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("vectorcore: open kv store: %w", err)
	}
	walLog, err := wal.Open(filepath.Join(dir, walFile))
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("vectorcore: open wal: %w", err)
	}

	snapshotBlob, err := snapshotfile.Read(filepath.Join(dir, snapshotFile))
	if err != nil {
		if !os.IsNotExist(err) {
			walLog.Close()
			kvStore.Close()
			return nil, fmt.Errorf("vectorcore: read snapshot: %w", err)
		}
		snapshotBlob = nil
	}

	entries, err := walLog.Replay()
	if err != nil {
		walLog.Close()
		kvStore.Close()
		return nil, fmt.Errorf("vectorcore: replay wal: %w", err)
	}
	recEntries := make([]vecrecovery.WALEntry, len(entries))
	for i, e := range entries {
		recEntries[i] = vecrecovery.WALEntry{Type: e.Type, Payload: e.Payload}
	}

	recovered, err := vecrecovery.Recover(snapshotBlob, recEntries)
	if err != nil {
		walLog.Close()
		kvStore.Close()
		return nil, err
	}

	store, err := NewStore(kvStore, walLog, recovered)
	if err != nil {
		walLog.Close()
		kvStore.Close()
		return nil, err
	}

	return &DB{dir: dir, kv: kvStore, wal: walLog, store: store}, nil
}

// Store returns the facade for collection and vector operations.
func (db *DB) Store() *Store { return db.store }

// Checkpoint serializes every collection into a snapshot blob, writes it
// atomically next to the WAL, then truncates the WAL: everything replay
// would reproduce is now in the snapshot.
func (db *DB) Checkpoint() error {
	start := time.Now()

	blob, err := db.store.snapshot()
	if err != nil {
		return err
	}
	if err := snapshotfile.Write(filepath.Join(db.dir, snapshotFile), blob); err != nil {
		return errStorage("write snapshot", err)
	}
	if err := db.wal.Truncate(); err != nil {
		return errStorage("truncate wal after checkpoint", err)
	}

	dbLogger.Printf("checkpoint wrote %d byte(s) in %s", len(blob), time.Since(start))
	return nil
}

// Close closes the WAL and KV files. The Store must not be used after
// Close.
func (db *DB) Close() error {
	if err := db.wal.Close(); err != nil {
		db.kv.Close()
		return err
	}
	return db.kv.Close()
}

// snapshot captures every collection's full state as one snapshot blob.
// It holds the store lock and every collection's read lock for the
// duration, so no writer can interleave and the blob is a consistent cut
// across collections.
func (s *Store) snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Take every collection's lock before reading any of them, so a
	// write to one collection cannot land between two collections' reads.
	for _, state := range s.collections {
		state.mu.RLock()
		defer state.mu.RUnlock()
	}

	collections := make([]vecsnapshot.Collection, 0, len(s.collections))
	for _, state := range s.collections {
		c, err := s.snapshotCollection(state)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return vecsnapshot.Encode(collections), nil
}

// snapshotCollection assembles one collection's snapshot record, reuniting
// each live heap entry with its user key and KV-resident metadata. Caller
// holds state.mu.
func (s *Store) snapshotCollection(state *collectionState) (vecsnapshot.Collection, error) {
	heap := state.backend.Heap()

	freeSlots := heap.FreeSlots()
	free := make([]uint64, len(freeSlots))
	for i, off := range freeSlots {
		free[i] = uint64(off)
	}

	var vectors []vecsnapshot.VectorRecord
	var iterErr error
	heap.Iter(func(e vecheap.Entry) bool {
		key, ok := state.idToKey[e.ID]
		if !ok {
			iterErr = errInternal(fmt.Sprintf("live vector id %d has no key in the collection's key index", e.ID), nil)
			return false
		}
		var metadata json.RawMessage
		raw, err := s.kv.Get(vectorKey(state.runID, state.name, key))
		switch {
		case err == kv.ErrNotFound:
			// Heap is the source of truth for liveness; a missing KV
			// record just means no metadata survives into the snapshot.
		case err != nil:
			iterErr = errStorage("read vector record during snapshot", err)
			return false
		default:
			var rec vectorRecord
			if jerr := json.Unmarshal(raw, &rec); jerr != nil {
				iterErr = errSerialization("decode vector record during snapshot", jerr)
				return false
			}
			metadata = rec.Metadata
		}
		vectors = append(vectors, vecsnapshot.VectorRecord{
			VectorID:  e.ID,
			Key:       key,
			Embedding: append([]float32(nil), e.Embedding...),
			Metadata:  metadata,
		})
		return true
	})
	if iterErr != nil {
		return vecsnapshot.Collection{}, iterErr
	}

	return vecsnapshot.Collection{
		RunID:     state.runID,
		Name:      state.name,
		Dimension: uint32(state.config.Dimension),
		Metric:    uint8(state.config.Metric),
		Dtype:     state.config.Dtype,
		NextID:    heap.NextID(),
		FreeSlots: free,
		Vectors:   vectors,
	}, nil
}
