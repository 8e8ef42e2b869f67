// Package vecsnapshot implements the bit-exact snapshot codec for the
// vector primitive: one contiguous blob covering every collection,
// including the free-slot set and next-id counter that must survive a
// restart for ids to stay unique.
package vecsnapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// SnapshotVersion is the only version this codec currently writes or
// accepts. A future format must bump this; Decode keeps rejecting
// anything it doesn't understand.
const SnapshotVersion byte = 0x01

// ErrUnknownVersion is returned by Decode when the blob's leading version
// byte is not SnapshotVersion.
type ErrUnknownVersion struct{ Got byte }

func (e ErrUnknownVersion) Error() string {
	return fmt.Sprintf("vecsnapshot: unknown version byte 0x%02x", e.Got)
}

// VectorRecord is one vector's snapshot entry: its id, the user-facing key
// it was stored under, its embedding, and optional JSON metadata.
type VectorRecord struct {
	VectorID  uint64
	Key       string
	Embedding []float32
	Metadata  json.RawMessage // nil if the vector has no metadata
}

// Collection is one collection's full snapshot state.
type Collection struct {
	RunID     string
	Name      string
	Dimension uint32
	Metric    uint8
	Dtype     uint8
	NextID    uint64
	FreeSlots []uint64 // f32-element offsets, in whatever order the heap had them
	// Vectors must be in ascending VectorID order; Encode does not
	// re-sort it, since the heap's Iter already yields ascending order
	// and re-sorting here would hide a caller bug instead of surfacing it.
	Vectors []VectorRecord
}

func putString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("vecsnapshot: truncated string length")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return "", nil, fmt.Errorf("vecsnapshot: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

func encodeHeader(c Collection) []byte {
	buf := make([]byte, 0, 64+len(c.RunID)+len(c.Name)+len(c.FreeSlots)*8)
	buf = putString(buf, c.RunID)
	buf = putString(buf, c.Name)
	buf = binary.LittleEndian.AppendUint32(buf, c.Dimension)
	buf = append(buf, c.Metric, c.Dtype)
	buf = binary.LittleEndian.AppendUint64(buf, c.NextID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.FreeSlots)))
	for _, offset := range c.FreeSlots {
		buf = binary.LittleEndian.AppendUint64(buf, offset)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Vectors)))
	return buf
}

type header struct {
	runID, name        string
	dimension          uint32
	metric, dtype      uint8
	nextID             uint64
	freeSlots          []uint64
	count              uint32
}

func decodeHeader(buf []byte) (header, error) {
	var h header
	var err error
	h.runID, buf, err = readString(buf)
	if err != nil {
		return h, err
	}
	h.name, buf, err = readString(buf)
	if err != nil {
		return h, err
	}
	if len(buf) < 4+1+1+8+4 {
		return h, fmt.Errorf("vecsnapshot: truncated header")
	}
	h.dimension = binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	h.metric = buf[0]
	h.dtype = buf[1]
	buf = buf[2:]
	h.nextID = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n)*8+4 {
		return h, fmt.Errorf("vecsnapshot: truncated free slots")
	}
	h.freeSlots = make([]uint64, n)
	for i := range h.freeSlots {
		h.freeSlots[i] = binary.LittleEndian.Uint64(buf[:8])
		buf = buf[8:]
	}
	h.count = binary.LittleEndian.Uint32(buf[:4])
	return h, nil
}

func encodeVector(dim uint32, v VectorRecord) ([]byte, error) {
	if uint32(len(v.Embedding)) != dim {
		return nil, fmt.Errorf("vecsnapshot: vector %d has %d dims, collection expects %d", v.VectorID, len(v.Embedding), dim)
	}
	buf := make([]byte, 0, 16+len(v.Key)+len(v.Embedding)*4+len(v.Metadata))
	buf = binary.LittleEndian.AppendUint64(buf, v.VectorID)
	buf = putString(buf, v.Key)
	for _, f := range v.Embedding {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	if v.Metadata == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Metadata)))
		buf = append(buf, v.Metadata...)
	}
	return buf, nil
}

func decodeVector(dim uint32, buf []byte) (VectorRecord, []byte, error) {
	var v VectorRecord
	if len(buf) < 8+4 {
		return v, nil, fmt.Errorf("vecsnapshot: truncated vector record")
	}
	v.VectorID = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]

	var err error
	v.Key, buf, err = readString(buf)
	if err != nil {
		return v, nil, err
	}

	if uint64(len(buf)) < uint64(dim)*4+1 {
		return v, nil, fmt.Errorf("vecsnapshot: truncated embedding")
	}
	v.Embedding = make([]float32, dim)
	for i := range v.Embedding {
		v.Embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))
		buf = buf[4:]
	}

	hasMetadata := buf[0] == 1
	buf = buf[1:]
	if hasMetadata {
		if len(buf) < 4 {
			return v, nil, fmt.Errorf("vecsnapshot: truncated metadata length")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return v, nil, fmt.Errorf("vecsnapshot: truncated metadata body")
		}
		v.Metadata = append(json.RawMessage(nil), buf[:n]...)
		buf = buf[n:]
	}
	return v, buf, nil
}

// Encode serializes collections into one contiguous blob. Collections are
// written ordered by (RunID, Name) lexicographically regardless of the
// order given, so the output is deterministic across callers whose
// collection maps iterate in arbitrary order.
func Encode(collections []Collection) []byte {
	sorted := append([]Collection(nil), collections...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RunID != sorted[j].RunID {
			return sorted[i].RunID < sorted[j].RunID
		}
		return sorted[i].Name < sorted[j].Name
	})

	out := []byte{SnapshotVersion}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(sorted)))

	for _, c := range sorted {
		header := encodeHeader(c)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(header)))
		out = append(out, header...)
		for _, v := range c.Vectors {
			vbuf, err := encodeVector(c.Dimension, v)
			if err != nil {
				// A caller-constructed Collection with a mismatched
				// embedding length is a programmer error upstream (the
				// heap guarantees every stored vector has the right
				// dimension); panicking here matches that contract
				// violation rather than silently truncating the snapshot.
				panic(err)
			}
			out = append(out, vbuf...)
		}
	}
	return out
}

// Decode parses a snapshot blob back into its collections, in the same
// (RunID, Name)-ascending order Encode wrote them in.
func Decode(data []byte) ([]Collection, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("vecsnapshot: empty blob")
	}
	version := data[0]
	if version != SnapshotVersion {
		return nil, ErrUnknownVersion{Got: version}
	}
	buf := data[1:]

	if len(buf) < 4 {
		return nil, fmt.Errorf("vecsnapshot: truncated collection count")
	}
	count := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]

	collections := make([]Collection, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 4 {
			return nil, fmt.Errorf("vecsnapshot: truncated header length")
		}
		headerLen := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint64(len(buf)) < uint64(headerLen) {
			return nil, fmt.Errorf("vecsnapshot: truncated header body")
		}
		h, err := decodeHeader(buf[:headerLen])
		if err != nil {
			return nil, err
		}
		buf = buf[headerLen:]

		vectors := make([]VectorRecord, 0, h.count)
		for j := uint32(0); j < h.count; j++ {
			var v VectorRecord
			v, buf, err = decodeVector(h.dimension, buf)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, v)
		}

		collections = append(collections, Collection{
			RunID:     h.runID,
			Name:      h.name,
			Dimension: h.dimension,
			Metric:    h.metric,
			Dtype:     h.dtype,
			NextID:    h.nextID,
			FreeSlots: h.freeSlots,
			Vectors:   vectors,
		})
	}
	return collections, nil
}
