// Package wal is a minimal write-ahead log standing in for the host
// database's WAL writer and global replayer: length-prefixed entries,
// each tagged with an entry-type byte, framed into transactions by
// begin/commit/abort markers that live outside the 0x70-0x73 range the
// vector codec reserves for its own entries.
package wal

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
)

// Reserved entry-type bytes outside the vector primitive's 0x70-0x73
// range, used to frame transactions.
const (
	EntryTxBegin  byte = 0x01
	EntryTxCommit byte = 0x02
	EntryTxAbort  byte = 0x03
)

// Entry is one raw WAL record: an entry-type byte plus an opaque payload.
// The vector WAL codec (internal/vecwal) is what gives meaning to payload
// for entry types 0x70-0x73.
type Entry struct {
	Type    byte
	Payload []byte
}

// WAL is an append-only, transaction-framed log file.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	// txBuf accumulates entries written since the last BeginTx, flushed to
	// disk in full (framed by begin/commit) on CommitTx.
	inTx  bool
	txBuf []Entry
}

// Open opens (or creates) the WAL file at filename.
func Open(filename string) (*WAL, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// BeginTx starts buffering entries for a new transaction. Only one
// transaction may be open at a time.
func (w *WAL) BeginTx() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inTx {
		return errors.New("wal: transaction already open")
	}
	w.inTx = true
	w.txBuf = nil
	return nil
}

// Write appends entry to the currently open transaction's buffer. It is
// not yet durable; CommitTx or AbortTx finalizes it.
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inTx {
		return errors.New("wal: no open transaction")
	}
	w.txBuf = append(w.txBuf, entry)
	return nil
}

// CommitTx flushes the buffered transaction to disk framed by begin/commit
// markers and fsyncs. Once this returns nil, the transaction's entries are
// visible to Replay.
func (w *WAL) CommitTx() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inTx {
		return errors.New("wal: no open transaction")
	}

	if err := w.appendRecord(EntryTxBegin, nil); err != nil {
		return err
	}
	for _, e := range w.txBuf {
		if err := w.appendRecord(e.Type, e.Payload); err != nil {
			return err
		}
	}
	if err := w.appendRecord(EntryTxCommit, nil); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}

	w.inTx = false
	w.txBuf = nil
	return nil
}

// AbortTx discards the buffered transaction without writing anything.
// Since nothing was ever appended to disk, this is equivalent to a crash
// before commit: Replay will never see these entries.
func (w *WAL) AbortTx() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inTx {
		return errors.New("wal: no open transaction")
	}
	w.inTx = false
	w.txBuf = nil
	return nil
}

func (w *WAL) appendRecord(entryType byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = entryType
	copy(buf[5:], payload)

	pos, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	_, err = w.file.WriteAt(buf, pos)
	return err
}

// Replay reads every entry written so far and returns the sequence of
// entries belonging to committed transactions, in commit order. Entries
// from a transaction with no trailing commit marker (a crash between
// BeginTx and CommitTx) are discarded.
func (w *WAL) Replay() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var committed []Entry
	var pending []Entry
	inTx := false

	for {
		header := make([]byte, 5)
		if _, err := io.ReadFull(w.file, header); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		payloadLen := binary.LittleEndian.Uint32(header[0:4])
		entryType := header[4]

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(w.file, payload); err != nil {
			break // truncated tail: treat as a crash mid-write, stop here
		}

		switch entryType {
		case EntryTxBegin:
			inTx = true
			pending = nil
		case EntryTxCommit:
			if inTx {
				committed = append(committed, pending...)
			}
			inTx = false
			pending = nil
		case EntryTxAbort:
			inTx = false
			pending = nil
		default:
			if inTx {
				pending = append(pending, Entry{Type: entryType, Payload: payload})
			}
		}
	}

	return committed, nil
}

// Truncate clears the WAL file, used after a checkpoint has absorbed
// everything replay would otherwise reproduce.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
