package siser

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

var hdrPrefix = []byte("--- ")

// NeedsNewline returns true if a '\n' is written after d so that the
// next header starts on a new line
func NeedsNewline(d []byte) bool {
	n := len(d)
	return n > 0 && d[n-1] != '\n'
}

// Writer writes records in the format:
//
//	--- ${size} ${unix_ms} ${name}\n
//	${data}\n
type Writer struct {
	w io.Writer

	// position of the last written record, relative to the first
	// byte written by this Writer
	CurrRecordPos int64
	// position of data of the last written record
	DataPos int64
	// position of the next record
	NextRecordPos int64

	writeBuf bytes.Buffer
	mu       sync.Mutex
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// WriteRecord writes a key / value record and resets it
func (w *Writer) WriteRecord(r *Record) (int, error) {
	n, err := w.Write(r.Marshal(), r.Timestamp, r.Name)
	r.Reset()
	return n, err
}

// Write writes a block of data with a timestamp and optional name.
// Zero t means current time. Returns number of bytes written
func (w *Writer) Write(d []byte, t time.Time, name string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// don't keep a big buffer around after writing a big record
	if w.writeBuf.Cap() > 100*1024 && len(d) < 50*1024 {
		w.writeBuf = bytes.Buffer{}
	}
	if t.IsZero() {
		t = time.Now()
	}
	d2 := MarshalLine(name, t, d, &w.writeBuf)
	n, err := w.w.Write(d2)
	if err != nil {
		return n, err
	}
	pad := 0
	if NeedsNewline(d) {
		pad = 1
	}
	w.CurrRecordPos = w.NextRecordPos
	w.DataPos = w.NextRecordPos + int64(n-len(d)-pad)
	w.NextRecordPos += int64(n)
	return n, nil
}

// MarshalLine serializes a record into wb (allocated if nil).
// If t is zero, the timestamp is not written
func MarshalLine(name string, t time.Time, d []byte, wb *bytes.Buffer) []byte {
	if wb == nil {
		wb = &bytes.Buffer{}
	} else {
		wb.Reset()
	}
	// 128 for size, timestamp and separators
	wb.Grow(len(hdrPrefix) + len(name) + len(d) + 128)

	wb.Write(hdrPrefix)
	wb.WriteString(strconv.Itoa(len(d)))
	if !t.IsZero() {
		wb.WriteByte(' ')
		wb.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	}
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	if len(d) > 0 {
		wb.Write(d)
		if NeedsNewline(d) {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}
