package kvstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/btree"
	"github.com/kjk/kvdataset/siser"
)

var (
	ErrNotFound   = errors.New("kvstore: key not found")
	ErrKeyExists  = errors.New("kvstore: key already exists")
	ErrInvalidKey = errors.New("kvstore: invalid key")
	ErrCorrupted  = errors.New("kvstore: store file is corrupted")
	ErrClosed     = errors.New("kvstore: store is closed")
	ErrReadOnly   = errors.New("kvstore: store is read-only")
	ErrTxnActive  = errors.New("kvstore: another transaction is active")
	ErrTxnDone    = errors.New("kvstore: transaction already committed or rolled back")
)

type Options struct {
	// open for reading only. Uncommitted data at the end of the file
	// is ignored but not removed
	ReadOnly bool
	// if true, Put() of a key that is already in the store fails with
	// ErrKeyExists. By default the last committed value wins
	NoOverwrite bool
	// if true, Commit() doesn't call file.Sync()
	// much faster but a crash can lose the last transactions
	NoSync bool
	// how values written by this Store are compressed.
	// Reading handles all compressions
	Compression Compression
}

// entry is location of a value in the file
type entry struct {
	key   string
	off   int64
	size  int64
	crc   uint32
	codec Compression
}

func entryLess(a, b *entry) bool {
	return a.key < b.key
}

type Store struct {
	Path string

	opts  Options
	file  *os.File
	index *btree.BTreeG[*entry]
	// size of committed data in the file
	size int64
	// number of committed transactions
	txns int
	// bytes of a torn or uncommitted tail removed on Open
	recovered int64
	active    *Txn
	closed    bool
	mu        sync.Mutex
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, " \n\r") {
		return fmt.Errorf("%w: key '%s' contains spaces or newlines", ErrInvalidKey, key)
	}
	return nil
}

// Open opens a store at path, creating it if it doesn't exist
func Open(path string, opts *Options) (*Store, error) {
	s := &Store{
		Path:  path,
		index: btree.NewG[*entry](32, entryLess),
	}
	if opts != nil {
		s.opts = *opts
	}

	var err error
	if s.opts.ReadOnly {
		s.file, err = os.Open(path)
	} else {
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		s.file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		return nil, err
	}
	if err = s.load(); err != nil {
		s.file.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) writeMagic() error {
	if s.opts.ReadOnly {
		return fmt.Errorf("%w: '%s' is empty", ErrCorrupted, s.Path)
	}
	if _, err := s.file.WriteAt([]byte(Magic), 0); err != nil {
		return err
	}
	s.size = int64(len(Magic))
	if s.opts.NoSync {
		return nil
	}
	return s.file.Sync()
}

// load replays the file and builds the index from committed records
func (s *Store) load() error {
	st, err := s.file.Stat()
	if err != nil {
		return err
	}
	fileSize := st.Size()
	if fileSize == 0 {
		return s.writeMagic()
	}

	hdr := make([]byte, len(Magic))
	if _, err = s.file.ReadAt(hdr, 0); err != nil || string(hdr) != Magic {
		return fmt.Errorf("%w: '%s' is not a kvstore file", ErrCorrupted, s.Path)
	}

	start := int64(len(Magic))
	r := newRecordReader(s.file, start, fileSize)
	lastCommit := start
	var pending []*entry
	var badErr error
	for r.ReadNextData() {
		rn, err := parseRecName(r.Name)
		if err == nil {
			err = rn.verify(r.Data)
		}
		if err != nil {
			badErr = err
			break
		}
		switch rn.kind {
		case kindPut:
			e := &entry{
				key:   rn.key,
				off:   start + r.DataPos,
				size:  int64(len(r.Data)),
				crc:   rn.crc,
				codec: rn.codec,
			}
			pending = append(pending, e)
		case kindCommit:
			n, err := parseCommit(r.Data)
			if err == nil && n != len(pending) {
				err = fmt.Errorf("commit expected %d puts, got %d", n, len(pending))
			}
			if err != nil {
				return fmt.Errorf("%w: record at %d: %s", ErrCorrupted, start+r.CurrRecordPos, err)
			}
			for _, e := range pending {
				s.index.ReplaceOrInsert(e)
			}
			pending = pending[:0]
			lastCommit = start + r.NextRecordPos
			s.txns++
		}
	}
	if badErr == nil {
		badErr = r.Err()
	}
	if badErr != nil {
		// a damaged record is only a torn tail if no commit follows it
		badPos := start + r.CurrRecordPos
		committed, err := s.hasCommitAfter(badPos, fileSize)
		if err != nil {
			return err
		}
		if committed {
			return fmt.Errorf("%w: record at %d: %s", ErrCorrupted, badPos, badErr)
		}
	}

	s.size = lastCommit
	if lastCommit == fileSize {
		return nil
	}
	// torn write or transaction that never committed
	s.recovered = fileSize - lastCommit
	if s.opts.ReadOnly {
		return nil
	}
	if err = s.file.Truncate(lastCommit); err != nil {
		return err
	}
	return s.file.Sync()
}

func newRecordReader(f io.ReaderAt, pos int64, end int64) *siser.Reader {
	r := siser.NewReader(bufio.NewReader(io.NewSectionReader(f, pos, end-pos)))
	r.MaxDataSize = end - pos
	return r
}

// isCommitAt returns true if there's a valid commit record at pos
func (s *Store) isCommitAt(pos int64, end int64) bool {
	r := newRecordReader(s.file, pos, end)
	if !r.ReadNextData() {
		return false
	}
	rn, err := parseRecName(r.Name)
	return err == nil && rn.kind == kindCommit && rn.verify(r.Data) == nil
}

// hasCommitAfter looks for a valid commit record starting after pos
func (s *Store) hasCommitAfter(pos int64, end int64) (bool, error) {
	const chunkSize = 64 * 1024
	pat := []byte("\n--- ")
	// chunks overlap so that a pattern crossing chunk boundary is found
	buf := make([]byte, chunkSize+len(pat))
	for off := pos; off < end; off += chunkSize {
		n := min(int64(len(buf)), end-off)
		d := buf[:n]
		if _, err := s.file.ReadAt(d, off); err != nil && err != io.EOF {
			return false, err
		}
		for i := 0; ; {
			idx := bytes.Index(d[i:], pat)
			if idx < 0 {
				break
			}
			i += idx + 1
			if s.isCommitAt(off+int64(i), end) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Recovered returns number of bytes of uncommitted data that were
// dropped from the end of the file when it was opened
func (s *Store) Recovered() int64 {
	return s.recovered
}

// Txns returns number of committed transactions
func (s *Store) Txns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns
}

// Len returns number of keys
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// Count returns number of keys starting with prefix
func (s *Store) Count(prefix string) int {
	n := 0
	s.Ascend(prefix, func(string) bool {
		n++
		return true
	})
	return n
}

// Ascend calls fn for keys starting with prefix, in ascending order,
// until fn returns false
func (s *Store) Ascend(prefix string, fn func(key string) bool) {
	s.mu.Lock()
	var keys []string
	s.index.AscendGreaterOrEqual(&entry{key: prefix}, func(e *entry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		keys = append(keys, e.key)
		return true
	})
	s.mu.Unlock()

	// fn can call back into the store
	for _, k := range keys {
		if !fn(k) {
			return
		}
	}
}

// Get returns a copy of the value for a key
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.index.Get(&entry{key: string(key)})
	if !ok {
		return nil, ErrNotFound
	}
	d := make([]byte, e.size)
	if _, err := s.file.ReadAt(d, e.off); err != nil {
		return nil, fmt.Errorf("kvstore: read '%s': %w", e.key, err)
	}
	if checksum(d) != e.crc {
		return nil, fmt.Errorf("%w: checksum mismatch for '%s'", ErrCorrupted, e.key)
	}
	return decodeValue(e.codec, d)
}

// Close closes the file. Calling Close more than once is a no-op.
// A transaction that is still open is rolled back
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.active != nil {
		s.active.done = true
		s.active = nil
	}
	return s.file.Close()
}
