// Package vecrecovery rebuilds the vector primitive's in-memory state
// after a restart: it deserializes a snapshot blob, replays the committed
// WAL suffix on top of it, and verifies id monotonicity before handing
// the recovered collections back. Replay only ever reads — it never emits
// WAL entries of its own.
package vecrecovery

import (
	"encoding/json"
	"fmt"

	"github.com/shibudb.org/vector-core/internal/vecheap"
	"github.com/shibudb.org/vector-core/internal/vecindex"
	"github.com/shibudb.org/vector-core/internal/vecsnapshot"
	"github.com/shibudb.org/vector-core/internal/vecwal"
	"github.com/shibudb.org/vector-core/internal/vlog"
)

var logger = vlog.New("vecrecovery")

// collectionKey namespaces a collection by (run_id, name); different runs
// never share a backend even if they pick the same collection name.
type collectionKey struct {
	runID, name string
}

// InvariantViolation is raised when replay leaves a collection with a live
// id at or past next_id, or when a VectorUpsert entry names a collection
// that was never created.
type InvariantViolation struct {
	RunID, Name string
	Reason      string
}

func (e InvariantViolation) Error() string {
	return fmt.Sprintf("vecrecovery: invariant violation in (%s, %s): %s", e.RunID, e.Name, e.Reason)
}

// VectorInfo is the per-vector bookkeeping recovery reassembles alongside
// the heap: the user-facing key a vector was stored under, its metadata,
// and the timestamp of the write that produced it (zero for vectors
// restored from a snapshot, which does not record timestamps).
type VectorInfo struct {
	Key             string
	Metadata        json.RawMessage
	TimestampMicros int64
}

// Collection is one recovered collection: its config, a ready-to-query
// backend, and the id -> key/metadata bookkeeping callers use to
// re-populate the host KV after a restore.
type Collection struct {
	RunID     string
	Name      string
	Dimension uint32
	Metric    uint8
	Dtype     uint8
	Backend   *vecindex.Backend
	Records   map[uint64]VectorInfo
}

// Store is the recovered set of collections, keyed by (run_id, name).
type Store struct {
	collections map[collectionKey]*Collection
}

// NewStore returns an empty store, used both as the "no snapshot yet"
// starting point and as the base Recover builds on.
func NewStore() *Store {
	return &Store{collections: make(map[collectionKey]*Collection)}
}

// Get returns the collection for (runID, name), if one exists.
func (s *Store) Get(runID, name string) (*Collection, bool) {
	c, ok := s.collections[collectionKey{runID, name}]
	return c, ok
}

// Set installs or replaces a collection.
func (s *Store) Set(c *Collection) {
	if c.Records == nil {
		c.Records = make(map[uint64]VectorInfo)
	}
	s.collections[collectionKey{c.RunID, c.Name}] = c
}

// Delete removes a collection, reporting whether one existed.
func (s *Store) Delete(runID, name string) bool {
	k := collectionKey{runID, name}
	if _, ok := s.collections[k]; !ok {
		return false
	}
	delete(s.collections, k)
	return true
}

// All returns every recovered collection, in no particular order; callers
// that need determinism must sort.
func (s *Store) All() []*Collection {
	out := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	return out
}

// WALEntry is the generic shape the host replayer feeds recovery: an
// entry-type byte plus its raw payload. The host WAL's transaction
// framing (begin/commit/abort) has already been resolved by the time
// entries reach here — only committed entries are ever passed in.
type WALEntry struct {
	Type    byte
	Payload []byte
}

func newBackendFromSnapshot(c vecsnapshot.Collection) (*Collection, error) {
	metric, ok := vecindex.ParseMetric(c.Metric)
	if !ok {
		return nil, fmt.Errorf("vecrecovery: collection (%s, %s) has unknown metric byte 0x%02x", c.RunID, c.Name, c.Metric)
	}

	// Rebuild the flat buffer with the recorded free slots as zeroed
	// holes: every slot is either a free offset from the snapshot or gets
	// the next live vector, ids ascending. Free offsets must stay exactly
	// where the snapshot put them — a pending reuse pops one of them, and
	// it must not alias a live vector's storage.
	dim := int(c.Dimension)
	if dim <= 0 {
		return nil, fmt.Errorf("vecrecovery: collection (%s, %s) has invalid dimension %d", c.RunID, c.Name, dim)
	}
	dataLen := (len(c.Vectors) + len(c.FreeSlots)) * dim
	freeSet := make(map[int]bool, len(c.FreeSlots))
	freeSlots := make([]int, len(c.FreeSlots))
	for i, off := range c.FreeSlots {
		o := int(off)
		if o%dim != 0 || o+dim > dataLen || freeSet[o] {
			return nil, fmt.Errorf("vecrecovery: collection (%s, %s) has invalid free slot offset %d", c.RunID, c.Name, o)
		}
		freeSet[o] = true
		freeSlots[i] = o
	}

	data := make([]float32, dataLen)
	idToOffset := make(map[uint64]int, len(c.Vectors))
	records := make(map[uint64]VectorInfo, len(c.Vectors))
	offset := 0
	for _, v := range c.Vectors {
		for freeSet[offset] {
			offset += dim
		}
		copy(data[offset:offset+dim], v.Embedding)
		idToOffset[v.VectorID] = offset
		records[v.VectorID] = VectorInfo{Key: v.Key, Metadata: v.Metadata}
		offset += dim
	}

	heap := vecheap.FromSnapshot(int(c.Dimension), data, idToOffset, freeSlots, c.NextID)
	return &Collection{
		RunID:     c.RunID,
		Name:      c.Name,
		Dimension: c.Dimension,
		Metric:    c.Metric,
		Dtype:     c.Dtype,
		Backend:   vecindex.New(heap, metric),
		Records:   records,
	}, nil
}

// Recover rebuilds a Store from a snapshot blob (nil/empty means "no
// snapshot taken yet, start empty") and a WAL suffix of already-committed
// entries, then checks the id-monotonicity invariant across every
// recovered collection.
func Recover(snapshotBlob []byte, wal []WALEntry) (*Store, error) {
	store := NewStore()

	if len(snapshotBlob) > 0 {
		collections, err := vecsnapshot.Decode(snapshotBlob)
		if err != nil {
			return nil, fmt.Errorf("vecrecovery: decode snapshot: %w", err)
		}
		for _, c := range collections {
			col, err := newBackendFromSnapshot(c)
			if err != nil {
				return nil, err
			}
			store.Set(col)
		}
	}

	if err := replay(store, wal); err != nil {
		return nil, err
	}

	if err := verifyInvariants(store); err != nil {
		return nil, err
	}

	if len(snapshotBlob) > 0 || len(wal) > 0 {
		logger.Printf("recovered %d collection(s) from %d snapshot byte(s) + %d WAL entr(ies)",
			len(store.collections), len(snapshotBlob), len(wal))
	}
	return store, nil
}

func replay(store *Store, entries []WALEntry) error {
	for _, e := range entries {
		switch e.Type {
		case vecwal.EntryCollectionCreate:
			p, err := vecwal.DecodeCollectionCreate(e.Payload)
			if err != nil {
				return fmt.Errorf("vecrecovery: decode CollectionCreate: %w", err)
			}
			metric, ok := vecindex.ParseMetric(p.Metric)
			if !ok {
				return InvariantViolation{p.RunID, p.CollectionName, fmt.Sprintf("CollectionCreate names unknown metric byte 0x%02x", p.Metric)}
			}
			heap := vecheap.New(int(p.Dimension))
			store.Set(&Collection{
				RunID:     p.RunID,
				Name:      p.CollectionName,
				Dimension: p.Dimension,
				Metric:    p.Metric,
				Dtype:     p.Dtype,
				Backend:   vecindex.New(heap, metric),
			})

		case vecwal.EntryCollectionDelete:
			p, err := vecwal.DecodeCollectionDelete(e.Payload)
			if err != nil {
				return fmt.Errorf("vecrecovery: decode CollectionDelete: %w", err)
			}
			store.Delete(p.RunID, p.CollectionName)

		case vecwal.EntryVectorUpsert:
			p, err := vecwal.DecodeVectorUpsert(e.Payload)
			if err != nil {
				return fmt.Errorf("vecrecovery: decode VectorUpsert: %w", err)
			}
			col, ok := store.Get(p.RunID, p.CollectionName)
			if !ok {
				// A VectorUpsert naming a collection that was never
				// created has no safe interpretation; fail recovery
				// outright rather than silently skipping the entry.
				return InvariantViolation{p.RunID, p.CollectionName, fmt.Sprintf("VectorUpsert for id %d names a collection with no CollectionCreate in scope", p.VectorID)}
			}
			if err := col.Backend.Heap().InsertWithID(p.VectorID, p.Embedding); err != nil {
				return fmt.Errorf("vecrecovery: replay VectorUpsert id=%d: %w", p.VectorID, err)
			}
			col.Records[p.VectorID] = VectorInfo{Key: p.UserKey, Metadata: p.Metadata, TimestampMicros: p.TimestampMicros}

		case vecwal.EntryVectorDelete:
			p, err := vecwal.DecodeVectorDelete(e.Payload)
			if err != nil {
				return fmt.Errorf("vecrecovery: decode VectorDelete: %w", err)
			}
			col, ok := store.Get(p.RunID, p.CollectionName)
			if !ok {
				// A delete for an already-absent collection is not a
				// violation: CollectionDelete cascades through the same
				// WAL suffix and may simply have landed first.
				continue
			}
			col.Backend.Heap().Delete(p.VectorID)
			delete(col.Records, p.VectorID)

		default:
			return fmt.Errorf("vecrecovery: WAL entry type 0x%02x is outside the vector primitive's reserved range", e.Type)
		}
	}
	return nil
}

func verifyInvariants(store *Store) error {
	for _, col := range store.collections {
		heap := col.Backend.Heap()
		nextID := heap.NextID()
		violated := false
		heap.Iter(func(entry vecheap.Entry) bool {
			if entry.ID >= nextID {
				violated = true
				return false
			}
			return true
		})
		if violated {
			return InvariantViolation{col.RunID, col.Name, "a live id is not less than next_id after replay"}
		}
	}
	return nil
}
