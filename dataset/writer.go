package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kjk/kvdataset/kvstore"
	"github.com/kjk/kvdataset/log"
)

// DefaultBufferSize is the number of records written in a single transaction
const DefaultBufferSize = 1000

var (
	ErrLengthMismatch = errors.New("dataset: number of payloads and labels differ")
	ErrTooManyRecords = errors.New("dataset: too many records")
	ErrStoreWrite     = errors.New("dataset: store write failed")
	ErrWriterBusy     = errors.New("dataset: writer already used")
)

// StoreWriteError is returned when opening the store, a flush or closing
// the store fails. Records from batches before Batch are committed
type StoreWriteError struct {
	// 1-based number of the batch that failed, 0 if the store
	// couldn't be opened or closed
	Batch int
	// number of records in the failed batch
	Records int
	Err     error
}

func (e *StoreWriteError) Error() string {
	if e.Batch == 0 {
		return fmt.Sprintf("dataset: store write failed: %s", e.Err)
	}
	return fmt.Sprintf("dataset: writing batch %d (%d records) failed: %s", e.Batch, e.Records, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

func (e *StoreWriteError) Is(target error) bool {
	return target == ErrStoreWrite
}

// State is the stage of Writer.CreateDataset
type State int

const (
	StateIdle State = iota
	StateStoreOpen
	StateBuffering
	StateFlushing
	StateClosed
	StateFailed
)

var stateNames = []string{"idle", "store open", "buffering", "flushing", "closed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FlushInfo describes a committed batch
type FlushInfo struct {
	// 1-based
	Batch int
	// number of records (image / label pairs) in the batch
	Records int
	// number of records committed so far, including this batch
	Total    int
	Duration time.Duration
}

// Writer writes payloads and their labels to a store in batches of
// BufferSize records. Each batch is committed in a single transaction
type Writer struct {
	// path of the store file
	Path string
	// number of records per transaction, DefaultBufferSize if <= 0
	BufferSize int
	Format     Format
	// only used by FormatKV
	Compression kvstore.Compression
	// if true, writing to a store that already has a record fails.
	// By default existing records are replaced
	NoOverwrite bool
	// if set, called after each committed batch
	OnFlush func(FlushInfo)
	// if set, used instead of OpenStore
	OpenStore func(path string, format Format, opts StoreOptions) (Store, error)

	state   State
	store   Store
	buf     *Buffer
	batch   int
	written int
}

// State returns the current stage of the writer
func (w *Writer) State() State {
	return w.state
}

// Written returns the number of committed records
func (w *Writer) Written() int {
	return w.written
}

func (w *Writer) bufferSize() int {
	if w.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return w.BufferSize
}

func (w *Writer) fail(err error) error {
	w.state = StateFailed
	if w.store != nil {
		_ = w.store.Close()
		w.store = nil
	}
	return err
}

func (w *Writer) open() error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0755); err != nil {
		return &StoreWriteError{Err: err}
	}
	open := w.OpenStore
	if open == nil {
		open = OpenStore
	}
	opts := StoreOptions{
		NoOverwrite: w.NoOverwrite,
		Compression: w.Compression,
	}
	store, err := open(w.Path, w.Format, opts)
	if err != nil {
		return &StoreWriteError{Err: err}
	}
	w.store = store
	w.state = StateStoreOpen
	return nil
}

// flush writes buffered entries in a single transaction
func (w *Writer) flush() error {
	if w.buf.Len() == 0 {
		return nil
	}
	w.state = StateFlushing
	w.batch++
	records := w.buf.Records()
	timeStart := time.Now()
	wrapErr := func(err error) error {
		return &StoreWriteError{Batch: w.batch, Records: records, Err: err}
	}

	txn, err := w.store.Begin()
	if err != nil {
		return wrapErr(err)
	}
	err = w.buf.Each(func(k Key, v []byte) error {
		return txn.Put(k.Bytes(), v)
	})
	if err != nil {
		txn.Rollback()
		return wrapErr(err)
	}
	if err = txn.Commit(); err != nil {
		txn.Rollback()
		return wrapErr(err)
	}
	w.buf.Clear()
	w.written += records

	info := FlushInfo{
		Batch:    w.batch,
		Records:  records,
		Total:    w.written,
		Duration: time.Since(timeStart),
	}
	log.Verbosef("flushed batch %d: %d records in %s\n", info.Batch, info.Records, info.Duration)
	log.EventWithDuration("flush", info.Duration, "batch", info.Batch, "records", info.Records, "total", info.Total)
	if w.OnFlush != nil {
		w.OnFlush(info)
	}
	w.state = StateBuffering
	return nil
}

// CreateDataset writes payloads[i] under image-%09d and labels[i] under
// label-%09d keys. A Writer can only be used once
func (w *Writer) CreateDataset(payloads, labels [][]byte) error {
	if w.state != StateIdle {
		return ErrWriterBusy
	}
	if len(payloads) != len(labels) {
		w.state = StateFailed
		return fmt.Errorf("%w: %d payloads, %d labels", ErrLengthMismatch, len(payloads), len(labels))
	}
	n := len(payloads)
	if n > MaxRecords {
		w.state = StateFailed
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyRecords, n, MaxRecords)
	}

	if err := w.open(); err != nil {
		return w.fail(err)
	}

	bufSize := w.bufferSize()
	w.buf = NewBuffer(2 * min(bufSize, max(n, 1)))
	w.state = StateBuffering
	for i := range n {
		w.buf.Put(ImageKey(i), payloads[i])
		w.buf.Put(LabelKey(i), labels[i])
		if w.buf.Records() >= bufSize || i == n-1 {
			if err := w.flush(); err != nil {
				return w.fail(err)
			}
		}
	}

	err := w.store.Close()
	w.store = nil
	if err != nil {
		return w.fail(&StoreWriteError{Err: err})
	}
	w.state = StateClosed
	return nil
}

// CreateDataset writes payloads and labels to a kvstore at outputPath,
// committing bufferSize records at a time
func CreateDataset(payloads, labels [][]byte, outputPath string, bufferSize int) error {
	w := &Writer{
		Path:       outputPath,
		BufferSize: bufferSize,
	}
	return w.CreateDataset(payloads, labels)
}

// StringLabels converts labels to their UTF-8 bytes
func StringLabels(labels []string) [][]byte {
	res := make([][]byte, len(labels))
	for i, s := range labels {
		res[i] = []byte(s)
	}
	return res
}
