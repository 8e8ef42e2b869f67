package vectorcore

import "encoding/binary"

// Marker bytes distinguishing collection config records from vector
// records within a run's KV namespace. These are independent of the WAL
// entry-type bytes (0x70-0x73): the WAL
// range frames log records, these frame KV keys, and they are allowed to
// overlap numerically because they live in different keyspaces.
const (
	kvMarkerVectorRecord byte = 0x70
	kvMarkerConfig       byte = 0x71
)

// nsKey builds (namespace(run_id), marker, suffix) as a single byte slice:
// a length-prefixed run_id so two different run_ids can never produce a
// colliding key regardless of their lengths, followed by the marker byte
// and the UTF-8 suffix.
func nsKey(runID string, marker byte, suffix string) []byte {
	buf := make([]byte, 0, 4+len(runID)+1+len(suffix))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(runID)))
	buf = append(buf, runID...)
	buf = append(buf, marker)
	buf = append(buf, suffix...)
	return buf
}

func configKey(runID, name string) []byte {
	return nsKey(runID, kvMarkerConfig, name)
}

func vectorKey(runID, collection, key string) []byte {
	return nsKey(runID, kvMarkerVectorRecord, collection+"/"+key)
}

func vectorPrefix(runID, collection string) []byte {
	return nsKey(runID, kvMarkerVectorRecord, collection+"/")
}
