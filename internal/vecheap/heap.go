// Package vecheap implements the vector heap: contiguous f32 storage
// with slot recycling and monotonically increasing vector identifiers.
// The live-set (id -> slot offset) is kept in a google/btree tree instead
// of a Go map so iteration is always id-ascending regardless of insertion
// history.
package vecheap

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

// ErrDimensionMismatch is returned by Upsert/InsertWithID when the supplied
// embedding's length does not equal the heap's configured dimension.
var ErrDimensionMismatch = errors.New("vecheap: dimension mismatch")

const btreeDegree = 32

// slotItem is a google/btree.Item keyed by vector id.
type slotItem struct {
	id     uint64
	offset int
}

func (s slotItem) Less(than btree.Item) bool {
	return s.id < than.(slotItem).id
}

// Heap owns the flat f32 buffer for one collection plus the bookkeeping
// needed to recycle slots without ever recycling identifiers.
type Heap struct {
	dim       int
	data      []float32
	live      *btree.BTree // slotItem by id, ascending
	freeSlots []int        // offsets available for reuse, LIFO
	nextID    uint64
	version   uint64
}

// New returns an empty heap for a collection of the given dimension.
func New(dim int) *Heap {
	return &Heap{
		dim:  dim,
		live: btree.New(btreeDegree),
	}
}

// FromSnapshot restores heap state verbatim, as produced by a prior
// checkpoint. It is used only by the recovery driver; both nextID and
// freeSlots are preserved exactly as given, which is what keeps ids from
// ever being reused across a crash.
func FromSnapshot(dim int, data []float32, idToOffset map[uint64]int, freeSlots []int, nextID uint64) *Heap {
	h := &Heap{
		dim:       dim,
		data:      data,
		live:      btree.New(btreeDegree),
		freeSlots: append([]int(nil), freeSlots...),
		nextID:    nextID,
	}
	for id, offset := range idToOffset {
		h.live.ReplaceOrInsert(slotItem{id: id, offset: offset})
	}
	return h
}

// Dim returns the heap's configured dimension.
func (h *Heap) Dim() int { return h.dim }

// Len returns the number of live vectors.
func (h *Heap) Len() int { return h.live.Len() }

// NextID returns the next identifier that would be assigned by Insert,
// without consuming it.
func (h *Heap) NextID() uint64 { return h.nextID }

// Version returns the mutation counter, incremented on every successful
// Upsert/InsertWithID/Delete.
func (h *Heap) Version() uint64 { return h.version }

// Contains reports whether id is currently live.
func (h *Heap) Contains(id uint64) bool {
	return h.live.Get(slotItem{id: id}) != nil
}

// Get returns a borrowed slice of the D f32 values stored for id. The
// returned slice aliases the heap's internal buffer and must not be
// retained past the next mutation.
func (h *Heap) Get(id uint64) ([]float32, bool) {
	item := h.live.Get(slotItem{id: id})
	if item == nil {
		return nil, false
	}
	offset := item.(slotItem).offset
	return h.data[offset : offset+h.dim], true
}

// Upsert writes embedding into id's slot, allocating a new slot (reusing a
// freed one if available) if id is not already live. It never changes
// nextID; callers that need a fresh id should use Insert, and callers
// replaying a recorded id should use InsertWithID.
func (h *Heap) Upsert(id uint64, embedding []float32) error {
	if len(embedding) != h.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, h.dim, len(embedding))
	}

	if item := h.live.Get(slotItem{id: id}); item != nil {
		offset := item.(slotItem).offset
		copy(h.data[offset:offset+h.dim], embedding)
		h.version++
		return nil
	}

	offset := h.allocateSlot()
	copy(h.data[offset:offset+h.dim], embedding)
	h.live.ReplaceOrInsert(slotItem{id: id, offset: offset})
	h.version++
	return nil
}

// allocateSlot pops a freed slot if one exists, otherwise grows data by one
// slot and returns its offset.
func (h *Heap) allocateSlot() int {
	if n := len(h.freeSlots); n > 0 {
		offset := h.freeSlots[n-1]
		h.freeSlots = h.freeSlots[:n-1]
		return offset
	}
	offset := len(h.data)
	h.data = append(h.data, make([]float32, h.dim)...)
	return offset
}

// Insert allocates the next identifier and writes embedding to it.
func (h *Heap) Insert(embedding []float32) (uint64, error) {
	id := h.nextID
	if err := h.Upsert(id, embedding); err != nil {
		return 0, err
	}
	h.nextID++
	return id, nil
}

// InsertWithID writes embedding to the given id (as Upsert would) and
// then advances nextID past id, so a replayed id can never be handed out
// again by a subsequent Insert.
func (h *Heap) InsertWithID(id uint64, embedding []float32) error {
	if err := h.Upsert(id, embedding); err != nil {
		return err
	}
	if id+1 > h.nextID {
		h.nextID = id + 1
	}
	return nil
}

// Delete removes id if live, zeroing its slot's f32 range and pushing
// the slot onto freeSlots for reuse. Returns false if id was not live.
func (h *Heap) Delete(id uint64) bool {
	item := h.live.Delete(slotItem{id: id})
	if item == nil {
		return false
	}
	offset := item.(slotItem).offset
	slot := h.data[offset : offset+h.dim]
	for i := range slot {
		slot[i] = 0.0
	}
	h.freeSlots = append(h.freeSlots, offset)
	h.version++
	return true
}

// Clear empties the heap's data, live set, and free slots. nextID is
// left untouched: ids assigned before the clear stay burned.
func (h *Heap) Clear() {
	h.data = nil
	h.live = btree.New(btreeDegree)
	h.freeSlots = nil
	h.version++
}

// Entry is one (id, embedding) pair yielded by Iter, in ascending id
// order. Embedding aliases the heap's buffer.
type Entry struct {
	ID        uint64
	Embedding []float32
}

// Iter calls fn for every live vector in ascending id order, stopping
// early if fn returns false. This ordering is what the brute-force
// backend relies on for deterministic pre-sort scoring.
func (h *Heap) Iter(fn func(Entry) bool) {
	h.live.Ascend(func(i btree.Item) bool {
		si := i.(slotItem)
		return fn(Entry{ID: si.id, Embedding: h.data[si.offset : si.offset+h.dim]})
	})
}

// RawData returns the heap's backing buffer, for use by the snapshot codec.
func (h *Heap) RawData() []float32 { return h.data }

// IDToOffset returns a fresh map snapshot of the live id -> slot offset
// mapping, for use by the snapshot codec. Iteration order is not meaningful
// on the returned map; callers needing ordered iteration should use Iter.
func (h *Heap) IDToOffset() map[uint64]int {
	out := make(map[uint64]int, h.live.Len())
	h.live.Ascend(func(i btree.Item) bool {
		si := i.(slotItem)
		out[si.id] = si.offset
		return true
	})
	return out
}

// FreeSlots returns a copy of the free-slot stack in push order (the last
// element is the next one popped), for use by the snapshot codec.
func (h *Heap) FreeSlots() []int {
	return append([]int(nil), h.freeSlots...)
}
