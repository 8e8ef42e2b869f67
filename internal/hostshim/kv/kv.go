// Package kv is a minimal embedded key-value store standing in for the
// host database's shared storage layer: put/get/delete plus prefix scan
// over an append-only data file, with record positions kept in kvindex's
// ordered index.
package kv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrNotFound is returned by Get when key is absent or was deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a narrow, embedded stand-in for the host database's shared
// storage layer. It is not durability-equivalent to a real multi-primitive
// database — no cross-primitive transaction coordination lives here, only
// what this package's own callers (the vector facade's demo/test harness)
// need to exercise kv_put/kv_get/kv_delete/scan_with_prefix.
type Store struct {
	mu    sync.RWMutex
	file  *os.File
	index indexLike
}

// indexLike is satisfied by *kvindex.Index; declared here so this package
// does not need to import kvindex directly in its public surface, keeping
// the dependency direction facade -> kv -> kvindex.
type indexLike interface {
	Put(key string, offset int64) error
	Get(key string) (int64, bool)
	Delete(key string) error
	ScanPrefix(prefix string, fn func(key string, offset int64) bool)
	Close() error
}

// NewStore opens a Store backed by dataPath for record storage and idx for
// the key -> offset index.
func NewStore(dataPath string, idx indexLike) (*Store, error) {
	file, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("kv: open data file: %w", err)
	}
	return &Store{file: file, index: idx}, nil
}

// Put writes key -> value, appending a new record and updating the index.
// Tombstoned records are never reused; Put always appends.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 9+len(key)+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	buf[8] = 0 // live
	copy(buf[9:9+len(key)], key)
	copy(buf[9+len(key):], value)

	pos, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(buf, pos); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.index.Put(string(key), pos)
}

// Get returns the value stored for key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index.Get(string(key))
	if !ok {
		return nil, ErrNotFound
	}

	header := make([]byte, 9)
	if _, err := s.file.ReadAt(header, pos); err != nil {
		return nil, fmt.Errorf("kv: read header: %w", err)
	}
	keySize := binary.LittleEndian.Uint32(header[0:4])
	valSize := binary.LittleEndian.Uint32(header[4:8])
	tombstone := header[8] == 1

	if tombstone {
		return nil, ErrNotFound
	}

	rec := make([]byte, int(keySize)+int(valSize))
	if _, err := s.file.ReadAt(rec, pos+9); err != nil {
		return nil, fmt.Errorf("kv: read record: %w", err)
	}
	return append([]byte(nil), rec[keySize:]...), nil
}

// Delete removes key by writing a tombstone record and dropping it from
// the index. Returns false if key was never present.
func (s *Store) Delete(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Get(string(key)); !ok {
		return false, nil
	}

	buf := make([]byte, 9+len(key))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	buf[8] = 1 // tombstone

	pos, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return false, err
	}
	if _, err := s.file.WriteAt(buf, pos); err != nil {
		return false, err
	}
	if err := s.file.Sync(); err != nil {
		return false, err
	}
	if err := s.index.Delete(string(key)); err != nil {
		return false, err
	}
	return true, nil
}

// ScanPrefix calls fn(key, value) for every live key with the given
// prefix, in ascending key order. fn's return value controls whether
// scanning continues.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var readErr error
	s.index.ScanPrefix(string(prefix), func(key string, pos int64) bool {
		header := make([]byte, 9)
		if _, err := s.file.ReadAt(header, pos); err != nil {
			readErr = err
			return false
		}
		keySize := binary.LittleEndian.Uint32(header[0:4])
		valSize := binary.LittleEndian.Uint32(header[4:8])
		if header[8] == 1 {
			return true // tombstoned, skip
		}
		rec := make([]byte, int(keySize)+int(valSize))
		if _, err := s.file.ReadAt(rec, pos+9); err != nil {
			readErr = err
			return false
		}
		return fn(rec[:keySize], append([]byte(nil), rec[keySize:]...))
	})
	return readErr
}

// Close closes the data file and index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.file.Close()
}
