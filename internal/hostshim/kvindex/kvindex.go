// Package kvindex is an mmap-backed ordered index from byte-string keys
// to file offsets: entries are appended to an mmapped file that doubles
// on overflow, and replayed into an in-memory btree on open. The btree's
// ordered iteration is what makes prefix scans a bounded range walk.
package kvindex

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
)

const initialMmapSize = 4096

// Index is an ordered byte-key -> int64-offset map, persisted to an
// mmapped file in append-only entry format and rebuilt into an in-memory
// btree on open.
type Index struct {
	lock        sync.RWMutex
	mmapLock    sync.Mutex
	tree        *btree.BTree
	file        *os.File
	mmapData    []byte
	writeOffset int
}

type item struct {
	key    string
	offset int64
}

func (i item) Less(than btree.Item) bool {
	return i.key < than.(item).key
}

// Open opens (or creates) the index file at filename and replays its
// entries into memory.
func Open(filename string) (*Index, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}
	if size == 0 {
		size = initialMmapSize
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
	}

	mmapData, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	idx := &Index{
		tree:     btree.New(32),
		file:     file,
		mmapData: mmapData,
	}
	idx.writeOffset = idx.loadFromMmap()
	return idx, nil
}

func (idx *Index) loadFromMmap() int {
	idx.lock.Lock()
	idx.mmapLock.Lock()
	defer idx.lock.Unlock()
	defer idx.mmapLock.Unlock()

	offset := 0
	for offset+12 <= len(idx.mmapData) {
		start := offset
		keySize := binary.LittleEndian.Uint32(idx.mmapData[offset : offset+4])
		pos := int64(binary.LittleEndian.Uint64(idx.mmapData[offset+4 : offset+12]))
		offset += 12

		if offset+int(keySize) > len(idx.mmapData) {
			// Partial entry at the tail: the next write overwrites it.
			return start
		}
		if keySize == 0 && pos == 0 {
			// Uninitialized tail space: stop scanning; the next entry
			// is written here.
			return start
		}

		key := string(idx.mmapData[offset : offset+int(keySize)])
		offset += int(keySize)

		if pos == -1 {
			idx.tree.Delete(item{key: key})
		} else {
			idx.tree.ReplaceOrInsert(item{key: key, offset: pos})
		}
	}
	return offset
}

// Put records key -> offset, persisting the entry to the mmapped file.
func (idx *Index) Put(key string, offset int64) error {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	idx.tree.ReplaceOrInsert(item{key: key, offset: offset})
	return idx.appendEntry(key, offset)
}

// Get returns the offset recorded for key, if any.
func (idx *Index) Get(key string) (int64, bool) {
	idx.lock.RLock()
	defer idx.lock.RUnlock()
	got := idx.tree.Get(item{key: key})
	if got == nil {
		return 0, false
	}
	return got.(item).offset, true
}

// Delete removes key from the index, persisting a tombstone entry.
func (idx *Index) Delete(key string) error {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	if idx.tree.Delete(item{key: key}) == nil {
		return nil
	}
	return idx.appendEntry(key, -1)
}

// ScanPrefix calls fn with every (key, offset) pair whose key starts with
// prefix, in ascending key order, stopping early if fn returns false.
func (idx *Index) ScanPrefix(prefix string, fn func(key string, offset int64) bool) {
	idx.lock.RLock()
	defer idx.lock.RUnlock()

	idx.tree.AscendGreaterOrEqual(item{key: prefix}, func(i btree.Item) bool {
		it := i.(item)
		if len(it.key) < len(prefix) || it.key[:len(prefix)] != prefix {
			return false
		}
		return fn(it.key, it.offset)
	})
}

func (idx *Index) appendEntry(key string, offset int64) error {
	keyBytes := []byte(key)
	entrySize := 12 + len(keyBytes)

	idx.mmapLock.Lock()
	defer idx.mmapLock.Unlock()

	if idx.writeOffset+entrySize > len(idx.mmapData) {
		newSize := int64(len(idx.mmapData)*2 + entrySize + initialMmapSize)
		if err := syscall.Munmap(idx.mmapData); err != nil {
			return err
		}
		if err := idx.file.Truncate(newSize); err != nil {
			return err
		}
		mmapData, err := syscall.Mmap(int(idx.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			return err
		}
		idx.mmapData = mmapData
	}

	offsetInFile := idx.writeOffset
	binary.LittleEndian.PutUint32(idx.mmapData[offsetInFile:offsetInFile+4], uint32(len(keyBytes)))
	binary.LittleEndian.PutUint64(idx.mmapData[offsetInFile+4:offsetInFile+12], uint64(offset))
	copy(idx.mmapData[offsetInFile+12:offsetInFile+12+len(keyBytes)], keyBytes)
	idx.writeOffset += entrySize

	return unix.Msync(idx.mmapData, unix.MS_SYNC)
}

// Close unmaps the index file. It does not close the underlying *os.File.
func (idx *Index) Close() error {
	idx.mmapLock.Lock()
	defer idx.mmapLock.Unlock()
	return syscall.Munmap(idx.mmapData)
}
