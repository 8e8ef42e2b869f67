// Package vectorcore is a durable, embeddable vector-search primitive: a
// (run_id, name)-keyed set of vector collections, each backed by a flat
// f32 heap plus a deterministic brute-force search backend
// (internal/vecheap, internal/vecindex), made durable through a host
// key-value store, write-ahead log, and snapshot file
// (internal/hostshim).
package vectorcore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shibudb.org/vector-core/internal/hostshim/kv"
	"github.com/shibudb.org/vector-core/internal/hostshim/wal"
	"github.com/shibudb.org/vector-core/internal/vecheap"
	"github.com/shibudb.org/vector-core/internal/vecindex"
	"github.com/shibudb.org/vector-core/internal/vecrecovery"
	"github.com/shibudb.org/vector-core/internal/vecwal"
)

// Metric aliases the backend's metric type so callers outside this module
// can name one without reaching into internal packages.
type Metric = vecindex.Metric

const (
	MetricCosine    = vecindex.MetricCosine
	MetricEuclidean = vecindex.MetricEuclidean
	MetricDot       = vecindex.MetricDot
)

// CollectionConfig is a collection's immutable-after-creation
// configuration: dimension, similarity metric, and storage dtype (only
// f32 is supported).
type CollectionConfig struct {
	Dimension int
	Metric    Metric
	Dtype     uint8
}

// CollectionInfo is what create_collection/get_collection/list_collections
// return: a collection's identity, config, and live vector count.
type CollectionInfo struct {
	RunID     string
	Name      string
	Config    CollectionConfig
	Count     int
	CreatedAt int64
}

// collectionRecord is the KV-resident per-collection config record,
// persisted as JSON alongside the WAL entry of the same information.
type collectionRecord struct {
	Dimension uint32 `json:"dimension"`
	Metric    uint8  `json:"metric"`
	Dtype     uint8  `json:"dtype"`
	CreatedAt int64  `json:"created_at"`
}

// vectorRecord is the KV-resident per-vector bookkeeping record.
type vectorRecord struct {
	VectorID  uint64          `json:"vector_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Version   uint64          `json:"version"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// VectorEntry is what get/insert return to callers: a resolved vector
// reunited with its user-facing key and KV-resident bookkeeping fields.
type VectorEntry struct {
	Key       string
	VectorID  uint64
	Embedding []float32
	Metadata  json.RawMessage
	Version   uint64
	CreatedAt int64
	UpdatedAt int64
}

// VectorMatch is one ranked search result: a resolved VectorEntry plus its
// similarity score.
type VectorMatch struct {
	Entry VectorEntry
	Score float64
}

type collKey struct{ runID, name string }

// collectionState is one collection's live, in-process state: its backend
// (heap + search) and a key<->id cache. Both are rebuilt from the host
// storage on open, so the facade owns no persistent state of its own.
type collectionState struct {
	mu        sync.RWMutex
	runID     string
	name      string
	config    CollectionConfig
	createdAt int64
	backend   *vecindex.Backend
	idToKey   map[uint64]string
}

// Store is the facade: the (run_id, name) -> collection map plus the host
// collaborators every operation durably writes through.
type Store struct {
	mu          sync.RWMutex
	kv          *kv.Store
	wal         *wal.WAL
	collections map[collKey]*collectionState
}

// NewStore builds a Store from a kv.Store/wal.WAL pair and a
// vecrecovery.Store already reconstructed from a snapshot plus WAL replay
// (the recovery driver owns reading the snapshot/WAL files; NewStore only
// adapts its output into facade-shaped state). The recovered record
// bookkeeping is reconciled back into KV so subsequent prefix scans see
// exactly the vectors that survived recovery: records the heap no longer
// knows are dropped, records KV is missing are re-written.
func NewStore(kvStore *kv.Store, walLog *wal.WAL, recovered *vecrecovery.Store) (*Store, error) {
	s := &Store{
		kv:          kvStore,
		wal:         walLog,
		collections: make(map[collKey]*collectionState),
	}
	for _, c := range recovered.All() {
		metric, ok := vecindex.ParseMetric(c.Metric)
		if !ok {
			return nil, errSerialization(fmt.Sprintf("collection %q has unknown metric byte 0x%02x", c.Name, c.Metric), nil)
		}
		idToKey := make(map[uint64]string, len(c.Records))
		for id, info := range c.Records {
			idToKey[id] = info.Key
		}
		if err := reconcileKV(kvStore, c); err != nil {
			return nil, errStorage("reconcile vector records for "+c.Name, err)
		}
		rec, err := loadCollectionRecord(kvStore, c.RunID, c.Name)
		if err != nil {
			return nil, errStorage("load collection record for "+c.Name, err)
		}
		s.collections[collKey{c.RunID, c.Name}] = &collectionState{
			runID:     c.RunID,
			name:      c.Name,
			config:    CollectionConfig{Dimension: int(c.Dimension), Metric: metric, Dtype: c.Dtype},
			createdAt: rec.CreatedAt,
			backend:   c.Backend,
			idToKey:   idToKey,
		}
	}
	return s, nil
}

// reconcileKV brings the KV records for one recovered collection in line
// with the heap state replay produced. A crash can land between a WAL
// commit and the matching KV write, so either side may be ahead: a KV
// record whose id is no longer live (or whose key no longer matches) is
// deleted, and a live id with no KV record gets one rebuilt from the
// recovered key/metadata.
func reconcileKV(store *kv.Store, c *vecrecovery.Collection) error {
	prefix := vectorPrefix(c.RunID, c.Name)
	seen := make(map[uint64]bool, len(c.Records))
	var stale [][]byte
	var decodeErr error
	err := store.ScanPrefix(prefix, func(key, value []byte) bool {
		var rec vectorRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			decodeErr = err
			return false
		}
		userKey := strings.TrimPrefix(string(key), string(prefix))
		info, live := c.Records[rec.VectorID]
		if !live || info.Key != userKey {
			stale = append(stale, append([]byte(nil), key...))
			return true
		}
		seen[rec.VectorID] = true
		return true
	})
	if err != nil {
		return err
	}
	if decodeErr != nil {
		return decodeErr
	}
	for _, key := range stale {
		if _, err := store.Delete(key); err != nil {
			return err
		}
	}
	for id, info := range c.Records {
		if seen[id] {
			continue
		}
		rec := vectorRecord{
			VectorID:  id,
			Metadata:  info.Metadata,
			Version:   1,
			CreatedAt: info.TimestampMicros,
			UpdatedAt: info.TimestampMicros,
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := store.Put(vectorKey(c.RunID, c.Name, info.Key), raw); err != nil {
			return err
		}
	}
	return nil
}

func loadCollectionRecord(store *kv.Store, runID, name string) (collectionRecord, error) {
	raw, err := store.Get(configKey(runID, name))
	if err == kv.ErrNotFound {
		return collectionRecord{}, nil
	}
	if err != nil {
		return collectionRecord{}, err
	}
	var rec collectionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return collectionRecord{}, err
	}
	return rec, nil
}

func now() int64 { return time.Now().UnixMicro() }

// CreateCollection validates name/dimension, fails if the collection
// already exists in this run, then durably records the config (WAL then
// KV) before installing an empty backend.
func (s *Store) CreateCollection(runID, name string, config CollectionConfig) (CollectionInfo, error) {
	if err := validateCollectionName(name); err != nil {
		return CollectionInfo{}, err
	}
	if err := validateDimension(config.Dimension); err != nil {
		return CollectionInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := collKey{runID, name}
	if _, exists := s.collections[key]; exists {
		return CollectionInfo{}, errCollectionAlreadyExists(runID, name)
	}

	createdAt := now()
	payload := vecwal.EncodeCollectionCreate(vecwal.CollectionCreate{
		RunID:           runID,
		CollectionName:  name,
		Dimension:       uint32(config.Dimension),
		Metric:          uint8(config.Metric),
		Dtype:           config.Dtype,
		TimestampMicros: createdAt,
	})
	if err := s.writeWALEntry(vecwal.EntryCollectionCreate, payload); err != nil {
		return CollectionInfo{}, err
	}

	rec := collectionRecord{Dimension: uint32(config.Dimension), Metric: uint8(config.Metric), Dtype: config.Dtype, CreatedAt: createdAt}
	raw, err := json.Marshal(rec)
	if err != nil {
		return CollectionInfo{}, errInternal("marshal collection record", err)
	}
	if err := s.kv.Put(configKey(runID, name), raw); err != nil {
		return CollectionInfo{}, errStorage("persist collection config", err)
	}

	heap := vecheap.New(config.Dimension)
	s.collections[key] = &collectionState{
		runID:     runID,
		name:      name,
		config:    config,
		createdAt: createdAt,
		backend:   vecindex.New(heap, config.Metric),
		idToKey:   make(map[uint64]string),
	}

	return CollectionInfo{RunID: runID, Name: name, Config: config, Count: 0, CreatedAt: createdAt}, nil
}

// DeleteCollection cascade-deletes every vector record, the config record,
// emits CollectionDelete, and drops the in-process backend.
func (s *Store) DeleteCollection(runID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := collKey{runID, name}
	if _, exists := s.collections[key]; !exists {
		return errCollectionNotFound(runID, name)
	}

	prefix := vectorPrefix(runID, name)
	var keysToDelete [][]byte
	var scanErr error
	if err := s.kv.ScanPrefix(prefix, func(k, _ []byte) bool {
		keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		return true
	}); err != nil {
		scanErr = err
	}
	if scanErr != nil {
		return errStorage("scan vector records for cascade delete", scanErr)
	}
	for _, k := range keysToDelete {
		if _, err := s.kv.Delete(k); err != nil {
			return errStorage("cascade delete vector record", err)
		}
	}
	if _, err := s.kv.Delete(configKey(runID, name)); err != nil {
		return errStorage("delete collection config", err)
	}

	payload := vecwal.EncodeCollectionDelete(vecwal.CollectionDelete{RunID: runID, CollectionName: name, TimestampMicros: now()})
	if err := s.writeWALEntry(vecwal.EntryCollectionDelete, payload); err != nil {
		return err
	}

	delete(s.collections, key)
	return nil
}

// GetCollection returns info for (run_id, name).
func (s *Store) GetCollection(runID, name string) (CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.collections[collKey{runID, name}]
	if !exists {
		return CollectionInfo{}, errCollectionNotFound(runID, name)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return CollectionInfo{RunID: runID, Name: name, Config: state.config, Count: state.backend.Len(), CreatedAt: state.createdAt}, nil
}

// ListCollections returns every collection in runID, sorted by name
// ascending.
func (s *Store) ListCollections(runID string) []CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []CollectionInfo
	for k, state := range s.collections {
		if k.runID != runID {
			continue
		}
		state.mu.RLock()
		out = append(out, CollectionInfo{RunID: runID, Name: state.name, Config: state.config, Count: state.backend.Len(), CreatedAt: state.createdAt})
		state.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// writeWALEntry frames a single entry as its own one-entry transaction.
// The facade never batches multiple vector mutations into one host
// transaction in this standalone build; a real multi-primitive database
// would fold this into its own cross-primitive transaction instead.
func (s *Store) writeWALEntry(entryType byte, payload []byte) error {
	if err := s.wal.BeginTx(); err != nil {
		return errTransaction("begin", err)
	}
	if err := s.wal.Write(wal.Entry{Type: entryType, Payload: payload}); err != nil {
		_ = s.wal.AbortTx()
		return errTransaction("write", err)
	}
	if err := s.wal.CommitTx(); err != nil {
		return errTransaction("commit", err)
	}
	return nil
}

func (s *Store) getState(runID, name string) (*collectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, exists := s.collections[collKey{runID, name}]
	if !exists {
		return nil, errCollectionNotFound(runID, name)
	}
	return state, nil
}
