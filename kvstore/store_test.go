package kvstore

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kjk/kvdataset/siser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

func genRandomData(n int) []byte {
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func openStore(t *testing.T, path string, opts *Options) *Store {
	s, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putAll(t *testing.T, s *Store, kv map[string][]byte) {
	tx, err := s.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	for k, v := range kv {
		require.NoError(t, tx.Put([]byte(k), v))
	}
	require.NoError(t, tx.Commit())
}

func TestWriteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "data.kv")
	s := openStore(t, path, &Options{NoSync: true})

	want := map[string][]byte{}
	for batch := 0; batch < 5; batch++ {
		kv := map[string][]byte{}
		for i := 0; i < 20; i++ {
			k := fmt.Sprintf("key-%09d", batch*20+i)
			kv[k] = genRandomData(rng.Intn(500))
			want[k] = kv[k]
		}
		putAll(t, s, kv)
	}
	assert.Equal(t, 100, s.Len())
	assert.Equal(t, 5, s.Txns())
	require.NoError(t, s.Close())

	s = openStore(t, path, &Options{ReadOnly: true})
	assert.Equal(t, 100, s.Len())
	assert.Equal(t, 5, s.Txns())
	assert.Equal(t, int64(0), s.Recovered())
	for k, v := range want {
		got, err := s.Get([]byte(k))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(v, got), "value mismatch for %s", k)
	}
}

func TestValuesWithNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, nil)
	kv := map[string][]byte{
		"a": []byte("ends with newline\n"),
		"b": []byte("\n"),
		"c": {0xa, 0x1, 0x3, 0x0},
		"d": {},
		"e": []byte("no newline"),
	}
	putAll(t, s, kv)
	require.NoError(t, s.Close())

	s = openStore(t, path, nil)
	for k, v := range kv {
		got, err := s.Get([]byte(k))
		require.NoError(t, err)
		assert.Equal(t, len(v), len(got), "length mismatch for %s", k)
		assert.True(t, bytes.Equal(v, got), "value mismatch for %s", k)
	}
}

func TestCompression(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionBrotli} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.kv")
			s := openStore(t, path, &Options{Compression: c})
			v := bytes.Repeat([]byte("label 9598098491 "), 200)
			putAll(t, s, map[string][]byte{"k": v, "empty": nil})
			require.NoError(t, s.Close())

			st, err := os.Stat(path)
			require.NoError(t, err)
			assert.Less(t, st.Size(), int64(len(v)))

			// reading doesn't depend on Options.Compression
			s = openStore(t, path, nil)
			got, err := s.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, v, got)
			got, err = s.Get([]byte("empty"))
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := map[string]Compression{
		"":       CompressionNone,
		"none":   CompressionNone,
		"zstd":   CompressionZstd,
		"ZSTD":   CompressionZstd,
		"brotli": CompressionBrotli,
		"br":     CompressionBrotli,
	}
	for s, exp := range tests {
		got, err := ParseCompression(s)
		require.NoError(t, err)
		assert.Equal(t, exp, got, "ParseCompression(%q)", s)
	}
	_, err := ParseCompression("lz4")
	assert.Error(t, err)
}

func TestOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, nil)
	putAll(t, s, map[string][]byte{"k": []byte("v1")})
	putAll(t, s, map[string][]byte{"k": []byte("v2")})
	assert.Equal(t, 1, s.Len())
	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
	require.NoError(t, s.Close())

	// last committed value wins after reopen too
	s = openStore(t, path, nil)
	got, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestNoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, &Options{NoOverwrite: true})
	putAll(t, s, map[string][]byte{"k": []byte("v1")})

	tx, err := s.Begin()
	require.NoError(t, err)
	err = tx.Put([]byte("k"), []byte("v2"))
	assert.ErrorIs(t, err, ErrKeyExists)
	require.NoError(t, tx.Put([]byte("k2"), []byte("v")))
	err = tx.Put([]byte("k2"), []byte("v"))
	assert.ErrorIs(t, err, ErrKeyExists)
	tx.Rollback()

	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	_, err = s.Get([]byte("k2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTxnLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, nil)

	tx, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrTxnActive)

	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	_, err = s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound, "staged values are not visible before commit")

	tx.Rollback()
	assert.ErrorIs(t, tx.Commit(), ErrTxnDone)
	assert.ErrorIs(t, tx.Put([]byte("k"), nil), ErrTxnDone)
	assert.Equal(t, 0, s.Len())

	tx, err = s.Begin()
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Put([]byte("has space"), nil), ErrInvalidKey)
	assert.ErrorIs(t, tx.Put([]byte(""), nil), ErrInvalidKey)
	assert.ErrorIs(t, tx.Put([]byte("new\nline"), nil), ErrInvalidKey)
	require.NoError(t, tx.Commit())
	assert.Equal(t, 0, s.Txns(), "empty commit writes nothing")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	_, err := Open(path, &Options{ReadOnly: true})
	assert.True(t, os.IsNotExist(err))

	s := openStore(t, path, nil)
	require.NoError(t, s.Close())
	s = openStore(t, path, &Options{ReadOnly: true})
	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestAscendAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, nil)
	putAll(t, s, map[string][]byte{
		"label-000000001": nil,
		"image-000000001": nil,
		"image-000000000": nil,
		"label-000000000": nil,
		"imagex":          nil,
	})
	var keys []string
	s.Ascend("image-", func(k string) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"image-000000000", "image-000000001"}, keys)
	assert.Equal(t, 2, s.Count("label-"))
	assert.Equal(t, 5, s.Count(""))

	keys = nil
	s.Ascend("", func(k string) bool {
		keys = append(keys, k)
		return len(keys) < 2
	})
	assert.Len(t, keys, 2)
}

// appendToFile appends d to the end of the file at path
func appendToFile(t *testing.T, path string, d []byte) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(d)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func fileSize(t *testing.T, path string) int64 {
	st, err := os.Stat(path)
	require.NoError(t, err)
	return st.Size()
}

func TestRecoverTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, &Options{NoSync: true})
	putAll(t, s, map[string][]byte{"a": []byte("committed")})
	require.NoError(t, s.Close())
	committedSize := fileSize(t, path)

	// a transaction that never got its commit record, cut in the middle
	var buf bytes.Buffer
	w := siser.NewWriter(&buf)
	_, err := writePut(w, time.Now(), CompressionNone, "b", []byte("not committed"))
	require.NoError(t, err)
	_, err = writePut(w, time.Now(), CompressionNone, "c", []byte("torn write"))
	require.NoError(t, err)
	torn := buf.Bytes()[:buf.Len()-5]
	appendToFile(t, path, torn)

	// read-only sees only committed data and leaves the file alone
	s = openStore(t, path, &Options{ReadOnly: true})
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(len(torn)), s.Recovered())
	require.NoError(t, s.Close())

	s = openStore(t, path, nil)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(len(torn)), s.Recovered())
	assert.Equal(t, committedSize, fileSize(t, path))

	// appending after recovery works
	putAll(t, s, map[string][]byte{"b": []byte("v")})
	require.NoError(t, s.Close())
	s = openStore(t, path, nil)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(0), s.Recovered())
}

func TestRecoverDamagedUncommittedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := openStore(t, path, nil)
	putAll(t, s, map[string][]byte{"a": []byte("committed")})
	require.NoError(t, s.Close())
	committedSize := fileSize(t, path)

	// complete put record with a wrong checksum and no commit after it
	d := []byte("--- 5 1700000000123 put - 00000000 b\nvalue\n")
	appendToFile(t, path, d)

	s = openStore(t, path, nil)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(len(d)), s.Recovered())
	assert.Equal(t, committedSize, fileSize(t, path))
}

// writeThreeTxns creates a store with 3 committed transactions and
// returns its content
func writeThreeTxns(t *testing.T, path string) []byte {
	s := openStore(t, path, nil)
	putAll(t, s, map[string][]byte{"k": []byte("some value")})
	putAll(t, s, map[string][]byte{"k2": []byte("other value")})
	putAll(t, s, map[string][]byte{"k3": []byte("third value")})
	require.NoError(t, s.Close())
	d, err := os.ReadFile(path)
	require.NoError(t, err)
	return d
}

// setFirstRecordSize replaces data size in the header of the first record
func setFirstRecordSize(d []byte, size string) []byte {
	hdrStart := len(Magic) + len("--- ")
	sizeEnd := hdrStart + bytes.IndexByte(d[hdrStart:], ' ')
	var res []byte
	res = append(res, d[:hdrStart]...)
	res = append(res, size...)
	return append(res, d[sizeEnd:]...)
}

func TestDetectCorruption(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad_magic.kv")
	require.NoError(t, os.WriteFile(path, []byte("not a store\n"), 0644))
	_, err := Open(path, nil)
	assert.ErrorIs(t, err, ErrCorrupted)

	path = filepath.Join(dir, "bad_crc.kv")
	d := writeThreeTxns(t, path)
	idx := bytes.Index(d, []byte("some value"))
	require.True(t, idx > 0)
	d[idx] = 'S'
	require.NoError(t, os.WriteFile(path, d, 0644))
	_, err = Open(path, nil)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, int64(len(d)), fileSize(t, path))
}

// damaged record followed by committed transactions must not be
// mistaken for a torn tail and truncated away
func TestCorruptedSizeKeepsCommittedData(t *testing.T) {
	sizes := []string{
		// larger than the file
		"99999",
		// smaller than data, no '\n' where the pad should be
		"9",
		// swallows the next record's header
		"40",
		"x",
	}
	for _, size := range sizes {
		t.Run(size, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.kv")
			orig := writeThreeTxns(t, path)
			d := setFirstRecordSize(orig, size)
			require.NotEqual(t, orig, d)
			require.NoError(t, os.WriteFile(path, d, 0644))

			for _, opts := range []*Options{nil, {ReadOnly: true}} {
				_, err := Open(path, opts)
				assert.ErrorIs(t, err, ErrCorrupted)
			}
			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, d, got, "file must not be modified")
		})
	}
}

func TestRecordFormat(t *testing.T) {
	tm := time.UnixMilli(1700000000123)
	var buf bytes.Buffer
	w := siser.NewWriter(&buf)
	off, err := writePut(w, tm, CompressionNone, "image-000000000", []byte("abc"))
	require.NoError(t, err)
	exp := fmt.Sprintf("--- 3 1700000000123 put - %08x image-000000000\nabc\n", checksum([]byte("abc")))
	assert.Equal(t, exp, buf.String())
	assert.Equal(t, int64(len(exp)-4), off)

	r := newRecordReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
	require.True(t, r.ReadNextData())
	rn, err := parseRecName(r.Name)
	require.NoError(t, err)
	assert.Equal(t, kindPut, rn.kind)
	assert.Equal(t, CompressionNone, rn.codec)
	assert.Equal(t, "image-000000000", rn.key)
	require.NoError(t, rn.verify(r.Data))
	assert.Equal(t, "abc", string(r.Data))
	assert.Equal(t, off, r.DataPos)
	assert.Equal(t, int64(buf.Len()), r.NextRecordPos)
	assert.False(t, r.ReadNextData())
	assert.NoError(t, r.Err())

	for _, name := range []string{"put - 00000000", "put zip 00000000 k", "put - xyz k", "commit", "delete k"} {
		_, err = parseRecName(name)
		assert.Error(t, err, "parseRecName(%q)", name)
	}
}

func TestCommitRecord(t *testing.T) {
	tm := time.UnixMilli(1700000000123)
	var buf bytes.Buffer
	w := siser.NewWriter(&buf)
	require.NoError(t, writeCommit(w, tm, 3, 12))
	meta := "count: 3\ntxn: 12\n"
	exp := fmt.Sprintf("--- %d 1700000000123 commit %08x\n%s", len(meta), checksum([]byte(meta)), meta)
	assert.Equal(t, exp, buf.String())

	r := newRecordReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
	require.True(t, r.ReadNextData())
	rn, err := parseRecName(r.Name)
	require.NoError(t, err)
	assert.Equal(t, kindCommit, rn.kind)
	require.NoError(t, rn.verify(r.Data))
	n, err := parseCommit(r.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = parseCommit([]byte("count 3\n"))
	assert.Error(t, err)
	_, err = parseCommit([]byte("count: 3"))
	assert.Error(t, err)
	_, err = parseCommit([]byte("count: -1\n"))
	assert.Error(t, err)
	_, err = parseCommit([]byte("txn: 1\n"))
	assert.Error(t, err)
}

func TestTxnCloseRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s, err := Open(path, &Options{NoSync: true, NoOverwrite: true})
	require.NoError(t, err)
	tx, err := s.Begin()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				k := fmt.Sprintf("key-%d-%d", i, j)
				if err := tx.Put([]byte(k), []byte("v")); err != nil {
					errs[i] = err
					return
				}
			}
		}()
	}
	require.NoError(t, s.Close())
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrTxnDone)
		}
	}
	assert.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), ErrTxnDone)
	assert.ErrorIs(t, tx.Commit(), ErrTxnDone)
}
