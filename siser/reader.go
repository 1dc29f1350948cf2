package siser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ErrTruncated means the input ended in the middle of a record
var ErrTruncated = errors.New("siser: truncated record")

// Reader reads records written by Writer
type Reader struct {
	r *bufio.Reader

	// if > 0, a record with bigger data is reported as ErrTruncated
	// without reading it. Set to the size of the input to guard
	// against damaged size fields
	MaxDataSize int64

	// Record is available after ReadNextRecord()
	Record *ReadRecord

	// Data, Name and Timestamp are available after ReadNextData()
	// and over-written by the next read
	Data      []byte
	Name      string
	Timestamp time.Time

	// position of the current record within the reader.
	// After a failed read it's the position of the bad record
	CurrRecordPos int64
	// position of Data of the current record
	DataPos int64
	// position of the next record
	NextRecordPos int64

	err  error
	done bool
}

func NewReader(r *bufio.Reader) *Reader {
	return &Reader{
		r:      r,
		Record: &ReadRecord{},
	}
}

// Done returns true if we reached the end or an error
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

func (r *Reader) setErr(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrTruncated
	}
	r.err = err
	return false
}

// parseHeader parses "${size} ${unix_ms}[ ${name}]"
func (r *Reader) parseHeader(hdr []byte) (int64, error) {
	rest, ok := bytes.CutPrefix(hdr, hdrPrefix)
	if !ok {
		return 0, fmt.Errorf("siser: missing '--- ' in header '%s'", hdr)
	}
	dataSize, rest, ok := bytes.Cut(rest, []byte{' '})
	if !ok {
		return 0, fmt.Errorf("siser: unexpected header '%s'", hdr)
	}
	timestamp, name, _ := bytes.Cut(rest, []byte{' '})
	size, err := strconv.ParseInt(string(dataSize), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("siser: invalid size in header '%s'", hdr)
	}
	timeMs, err := strconv.ParseInt(string(timestamp), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("siser: invalid timestamp in header '%s'", hdr)
	}
	r.Timestamp = time.UnixMilli(timeMs)
	r.Name = string(name)
	return size, nil
}

// ReadNextData reads the next record. Returns false at the end of
// input or on error, check Err()
func (r *Reader) ReadNextData() bool {
	if r.Done() {
		return false
	}
	r.Name = ""
	r.CurrRecordPos = r.NextRecordPos

	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
			return false
		}
		return r.setErr(err)
	}
	hdrLen := int64(len(hdr))
	size, err := r.parseHeader(hdr[:len(hdr)-1])
	if err != nil {
		return r.setErr(err)
	}
	if r.MaxDataSize > 0 && size > r.MaxDataSize {
		return r.setErr(ErrTruncated)
	}

	// re-use r.Data unless it got big
	if cap(r.Data) > 1024*1024 {
		r.Data = nil
	}
	if size > int64(cap(r.Data)) {
		r.Data = make([]byte, size)
	} else {
		r.Data = r.Data[:size]
	}
	if _, err = io.ReadFull(r.r, r.Data); err != nil {
		return r.setErr(err)
	}
	recSize := hdrLen + size
	if NeedsNewline(r.Data) {
		c, err := r.r.ReadByte()
		if err != nil {
			return r.setErr(err)
		}
		if c != '\n' {
			return r.setErr(fmt.Errorf("siser: missing '\\n' after data of record at %d", r.CurrRecordPos))
		}
		recSize++
	}
	r.DataPos = r.CurrRecordPos + hdrLen
	r.NextRecordPos += recSize
	return true
}

// ReadNextRecord reads a key / value record into Record
func (r *Reader) ReadNextRecord() bool {
	if !r.ReadNextData() {
		return false
	}
	if _, err := UnmarshalRecord(r.Data, r.Record); err != nil {
		r.err = err
		return false
	}
	r.Record.Name = r.Name
	r.Record.Timestamp = r.Timestamp
	return true
}

// Err returns the read error. Reaching the end of input is not an error
func (r *Reader) Err() error {
	return r.err
}
