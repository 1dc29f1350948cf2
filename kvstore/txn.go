package kvstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/kjk/kvdataset/siser"
)

// Txn is a write transaction. Puts are staged in memory and written
// to the file with a single append in Commit.
// All methods take the store lock so a concurrent Store.Close is safe
type Txn struct {
	s   *Store
	buf bytes.Buffer
	w   *siser.Writer
	// timestamp of all records in the transaction
	time time.Time
	puts []*entry
	// keys staged in this transaction, only tracked for NoOverwrite
	staged map[string]struct{}
	done   bool
}

// Begin starts a write transaction. Only one can be active at a time
func (s *Store) Begin() (*Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	if s.active != nil {
		return nil, ErrTxnActive
	}
	t := &Txn{
		s:    s,
		time: time.Now(),
	}
	t.w = siser.NewWriter(&t.buf)
	if s.opts.NoOverwrite {
		t.staged = map[string]struct{}{}
	}
	s.active = t
	return t, nil
}

// Put stages a key / value. The value is visible to readers after Commit
func (t *Txn) Put(key, value []byte) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	k := string(key)
	if err := validateKey(k); err != nil {
		return err
	}
	if t.staged != nil {
		_, isStaged := t.staged[k]
		_, isCommitted := s.index.Get(&entry{key: k})
		if isStaged || isCommitted {
			return fmt.Errorf("%w: '%s'", ErrKeyExists, k)
		}
		t.staged[k] = struct{}{}
	}

	codec := s.opts.Compression
	d, err := encodeValue(codec, value)
	if err != nil {
		return fmt.Errorf("kvstore: compress '%s': %w", k, err)
	}
	off, err := writePut(t.w, t.time, codec, k, d)
	if err != nil {
		return err
	}
	e := &entry{
		key:   k,
		off:   off,
		size:  int64(len(d)),
		crc:   checksum(d),
		codec: codec,
	}
	t.puts = append(t.puts, e)
	return nil
}

func (t *Txn) finish() {
	t.done = true
	if t.s.active == t {
		t.s.active = nil
	}
}

// Commit appends staged puts followed by a commit record. Either all
// puts become visible or none do
func (t *Txn) Commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	defer t.finish()
	if s.closed {
		return ErrClosed
	}
	if len(t.puts) == 0 {
		return nil
	}

	if err := writeCommit(t.w, t.time, len(t.puts), s.txns+1); err != nil {
		return err
	}
	base := s.size
	d := t.buf.Bytes()
	if _, err := s.file.WriteAt(d, base); err != nil {
		_ = s.file.Truncate(base)
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	if !s.opts.NoSync {
		if err := s.file.Sync(); err != nil {
			_ = s.file.Truncate(base)
			return fmt.Errorf("kvstore: commit: %w", err)
		}
	}

	for _, e := range t.puts {
		e.off += base
		s.index.ReplaceOrInsert(e)
	}
	s.size = base + int64(len(d))
	s.txns++
	return nil
}

// Rollback discards staged puts. It's a no-op after Commit so it's
// safe to defer
func (t *Txn) Rollback() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return
	}
	t.finish()
}
