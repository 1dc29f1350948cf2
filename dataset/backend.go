package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kjk/kvdataset/kvstore"
	"github.com/kjk/kvdataset/log"
	"github.com/kjk/kvdataset/sqlitestore"
)

var (
	ErrNotFound      = errors.New("dataset: key not found")
	ErrUnknownFormat = errors.New("dataset: unknown store format")
	ErrInvalid       = errors.New("dataset: invalid dataset")
)

// Format is the kind of store file a dataset is written to
type Format string

const (
	FormatKV     Format = "kv"
	FormatSQLite Format = "sqlite"
)

// ParseFormat parses format name, "" means FormatKV
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kv", "kvstore":
		return FormatKV, nil
	case "sqlite", "sqlite3":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownFormat, s)
}

// Store is a transactional key / value store a dataset is written to
type Store interface {
	Begin() (Txn, error)
	Get(key []byte) ([]byte, error)
	// Count returns number of keys starting with prefix
	Count(prefix string) (int, error)
	// Keys calls fn for keys starting with prefix, in ascending order,
	// until fn returns false
	Keys(prefix string, fn func(key string) bool) error
	Close() error
}

// Txn is a write transaction. Nothing is visible to readers until Commit
type Txn interface {
	Put(key, value []byte) error
	Commit() error
	Rollback()
}

// StoreOptions configures how a Store is opened
type StoreOptions struct {
	ReadOnly    bool
	NoOverwrite bool
	Compression kvstore.Compression
}

// OpenStore opens a store of a given format at path
func OpenStore(path string, format Format, opts StoreOptions) (Store, error) {
	switch format {
	case "", FormatKV:
		s, err := kvstore.Open(path, &kvstore.Options{
			ReadOnly:    opts.ReadOnly,
			NoOverwrite: opts.NoOverwrite,
			Compression: opts.Compression,
		})
		if err != nil {
			return nil, err
		}
		if n := s.Recovered(); n > 0 {
			log.Logf("kvstore: dropped %d bytes of uncommitted data at the end of '%s'\n", n, path)
		}
		log.Verbosef("kvstore: opened '%s', %d keys in %d transactions\n", path, s.Len(), s.Txns())
		return &kvBackend{s: s}, nil
	case FormatSQLite:
		s, err := sqlitestore.Open(path, &sqlitestore.Options{
			ReadOnly:    opts.ReadOnly,
			NoOverwrite: opts.NoOverwrite,
		})
		if err != nil {
			return nil, err
		}
		return &sqliteBackend{s: s}, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownFormat, format)
}

// DetectFormat returns format of an existing store file by looking
// at its first bytes
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	n := max(len(kvstore.Magic), len(sqlitestore.Magic))
	hdr := make([]byte, n)
	n, err = io.ReadFull(f, hdr)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	hdr = hdr[:n]
	switch {
	case strings.HasPrefix(string(hdr), kvstore.Magic):
		return FormatKV, nil
	case strings.HasPrefix(string(hdr), sqlitestore.Magic):
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownFormat, path)
}

type kvBackend struct {
	s *kvstore.Store
}

func (b *kvBackend) Begin() (Txn, error) {
	t, err := b.s.Begin()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *kvBackend) Get(key []byte) ([]byte, error) {
	v, err := b.s.Get(key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key)
	}
	return v, err
}

func (b *kvBackend) Count(prefix string) (int, error) {
	return b.s.Count(prefix), nil
}

func (b *kvBackend) Keys(prefix string, fn func(key string) bool) error {
	b.s.Ascend(prefix, fn)
	return nil
}

func (b *kvBackend) Close() error {
	return b.s.Close()
}

type sqliteBackend struct {
	s *sqlitestore.Store
}

func (b *sqliteBackend) Begin() (Txn, error) {
	t, err := b.s.Begin()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *sqliteBackend) Get(key []byte) ([]byte, error) {
	v, err := b.s.Get(key)
	if errors.Is(err, sqlitestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key)
	}
	return v, err
}

func (b *sqliteBackend) Count(prefix string) (int, error) {
	return b.s.Count(prefix)
}

func (b *sqliteBackend) Keys(prefix string, fn func(key string) bool) error {
	return b.s.Keys(prefix, fn)
}

func (b *sqliteBackend) Close() error {
	return b.s.Close()
}
