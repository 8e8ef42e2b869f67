// Package vecwal implements the vector primitive's WAL entry codec: the
// four reserved entry-type bytes and their byte-exact payload encodings.
// Fixed-width fields are little-endian binary and strings carry a uint32
// length prefix; the one genuinely free-form field (vector metadata) is
// carried as JSON bytes.
package vecwal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Entry-type bytes reserved for the vector primitive. These are wire
// format: never renumber them. A future bandwidth-optimized VectorUpsert
// layout must allocate a new byte rather than reinterpret 0x72's payload.
const (
	EntryCollectionCreate byte = 0x70
	EntryCollectionDelete byte = 0x71
	EntryVectorUpsert     byte = 0x72
	EntryVectorDelete     byte = 0x73
)

// CollectionCreate is the payload of an EntryCollectionCreate record.
type CollectionCreate struct {
	RunID           string
	CollectionName  string
	Dimension       uint32
	Metric          uint8
	Dtype           uint8
	TimestampMicros int64
}

// CollectionDelete is the payload of an EntryCollectionDelete record.
type CollectionDelete struct {
	RunID           string
	CollectionName  string
	TimestampMicros int64
}

// VectorUpsert is the payload of an EntryVectorUpsert record. Metadata is
// nil when the vector carries no metadata; otherwise it is a JSON object
// (or other JSON value) encoded verbatim.
type VectorUpsert struct {
	RunID           string
	CollectionName  string
	UserKey         string
	VectorID        uint64
	Embedding       []float32
	Metadata        json.RawMessage
	TimestampMicros int64
}

// VectorDelete is the payload of an EntryVectorDelete record.
type VectorDelete struct {
	RunID           string
	CollectionName  string
	UserKey         string
	VectorID        uint64
	TimestampMicros int64
}

// --- string helpers: uint32 length prefix + UTF-8 bytes ---

func putString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("vecwal: truncated string length")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return "", nil, fmt.Errorf("vecwal: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

// EncodeCollectionCreate serializes a CollectionCreate payload.
func EncodeCollectionCreate(p CollectionCreate) []byte {
	buf := make([]byte, 0, 32+len(p.RunID)+len(p.CollectionName))
	buf = putString(buf, p.RunID)
	buf = putString(buf, p.CollectionName)
	buf = binary.LittleEndian.AppendUint32(buf, p.Dimension)
	buf = append(buf, p.Metric, p.Dtype)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TimestampMicros))
	return buf
}

// DecodeCollectionCreate parses a CollectionCreate payload.
func DecodeCollectionCreate(buf []byte) (CollectionCreate, error) {
	var p CollectionCreate
	var err error
	p.RunID, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.CollectionName, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	if len(buf) < 4+1+1+8 {
		return p, fmt.Errorf("vecwal: truncated CollectionCreate payload")
	}
	p.Dimension = binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	p.Metric = buf[0]
	p.Dtype = buf[1]
	buf = buf[2:]
	p.TimestampMicros = int64(binary.LittleEndian.Uint64(buf[:8]))
	return p, nil
}

// EncodeCollectionDelete serializes a CollectionDelete payload.
func EncodeCollectionDelete(p CollectionDelete) []byte {
	buf := make([]byte, 0, 16+len(p.RunID)+len(p.CollectionName))
	buf = putString(buf, p.RunID)
	buf = putString(buf, p.CollectionName)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TimestampMicros))
	return buf
}

// DecodeCollectionDelete parses a CollectionDelete payload.
func DecodeCollectionDelete(buf []byte) (CollectionDelete, error) {
	var p CollectionDelete
	var err error
	p.RunID, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.CollectionName, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	if len(buf) < 8 {
		return p, fmt.Errorf("vecwal: truncated CollectionDelete payload")
	}
	p.TimestampMicros = int64(binary.LittleEndian.Uint64(buf[:8]))
	return p, nil
}

// EncodeVectorUpsert serializes a VectorUpsert payload. The embedding is
// recorded in full on every upsert in this format version.
func EncodeVectorUpsert(p VectorUpsert) []byte {
	buf := make([]byte, 0, 64+len(p.RunID)+len(p.CollectionName)+len(p.UserKey)+len(p.Embedding)*4+len(p.Metadata))
	buf = putString(buf, p.RunID)
	buf = putString(buf, p.CollectionName)
	buf = putString(buf, p.UserKey)
	buf = binary.LittleEndian.AppendUint64(buf, p.VectorID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Embedding)))
	for _, v := range p.Embedding {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	if p.Metadata == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Metadata)))
		buf = append(buf, p.Metadata...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TimestampMicros))
	return buf
}

// DecodeVectorUpsert parses a VectorUpsert payload.
func DecodeVectorUpsert(buf []byte) (VectorUpsert, error) {
	var p VectorUpsert
	var err error
	p.RunID, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.CollectionName, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.UserKey, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	if len(buf) < 12 {
		return p, fmt.Errorf("vecwal: truncated VectorUpsert header")
	}
	p.VectorID = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	dim := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]

	if uint64(len(buf)) < uint64(dim)*4 {
		return p, fmt.Errorf("vecwal: truncated embedding")
	}
	p.Embedding = make([]float32, dim)
	for i := range p.Embedding {
		p.Embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))
		buf = buf[4:]
	}

	if len(buf) < 1 {
		return p, fmt.Errorf("vecwal: truncated metadata flag")
	}
	hasMetadata := buf[0] == 1
	buf = buf[1:]
	if hasMetadata {
		if len(buf) < 4 {
			return p, fmt.Errorf("vecwal: truncated metadata length")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return p, fmt.Errorf("vecwal: truncated metadata body")
		}
		p.Metadata = append(json.RawMessage(nil), buf[:n]...)
		buf = buf[n:]
	}

	if len(buf) < 8 {
		return p, fmt.Errorf("vecwal: truncated timestamp")
	}
	p.TimestampMicros = int64(binary.LittleEndian.Uint64(buf[:8]))
	return p, nil
}

// EncodeVectorDelete serializes a VectorDelete payload.
func EncodeVectorDelete(p VectorDelete) []byte {
	buf := make([]byte, 0, 32+len(p.RunID)+len(p.CollectionName)+len(p.UserKey))
	buf = putString(buf, p.RunID)
	buf = putString(buf, p.CollectionName)
	buf = putString(buf, p.UserKey)
	buf = binary.LittleEndian.AppendUint64(buf, p.VectorID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TimestampMicros))
	return buf
}

// DecodeVectorDelete parses a VectorDelete payload.
func DecodeVectorDelete(buf []byte) (VectorDelete, error) {
	var p VectorDelete
	var err error
	p.RunID, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.CollectionName, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	p.UserKey, buf, err = readString(buf)
	if err != nil {
		return p, err
	}
	if len(buf) < 16 {
		return p, fmt.Errorf("vecwal: truncated VectorDelete payload")
	}
	p.VectorID = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	p.TimestampMicros = int64(binary.LittleEndian.Uint64(buf[:8]))
	return p, nil
}
