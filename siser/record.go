package siser

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/kjk/kvdataset/u"
)

/*
Record is a list of key / value pairs serialized in a human-readable,
line-oriented format:

key: value\n

Values that are empty, longer than 120 bytes or contain bytes outside
printable ASCII are size-prefixed:

key:+${len}\n
${value}\n
*/

type Entry struct {
	Key   string
	Value string
}

// Record is a list of key / value pairs being written
type Record struct {
	buf  bytes.Buffer
	Name string
	// if zero, Writer uses current time
	Timestamp time.Time
}

// ReadRecord is a record decoded with UnmarshalRecord
type ReadRecord struct {
	Record
	Entries []Entry
}

func toStr(v any, buf *[]byte) string {
	if s, ok := v.(string); ok {
		return s
	}
	*buf = (*buf)[:0]
	if i, ok := v.(int); ok {
		*buf = strconv.AppendInt(*buf, int64(i), 10)
		return string(*buf)
	}
	*buf = fmt.Appendf(*buf, "%v", v)
	return string(*buf)
}

// Write appends key / value pairs. Call Marshal() to get serialized
// data, valid until Reset()
func (r *Record) Write(args ...any) error {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return fmt.Errorf("siser: invalid number of args: %d, should be multiple of 2", n)
	}
	var buf []byte
	for i := 0; i < n; i += 2 {
		k := toStr(args[i], &buf)
		v := toStr(args[i+1], &buf)
		r.marshalKeyVal(k, v)
	}
	return nil
}

// WriteNonEmpty is like Write but skips pairs with empty values
func (r *Record) WriteNonEmpty(args ...string) error {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return fmt.Errorf("siser: invalid number of args: %d, should be multiple of 2", n)
	}
	for i := 0; i < n; i += 2 {
		k, v := args[i], args[i+1]
		if k == "" {
			return fmt.Errorf("siser: empty key")
		}
		if v == "" {
			continue
		}
		r.marshalKeyVal(k, v)
	}
	return nil
}

// Reset clears data and timestamp but keeps Name
func (r *Record) Reset() {
	r.Timestamp = time.Time{}
	r.buf.Reset()
}

func (r *ReadRecord) Reset() {
	r.Record.Reset()
	r.Name = ""
	r.Entries = r.Entries[:0]
}

// Get returns value of the first entry with a given key
func (r *ReadRecord) Get(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

func serializableOnLine(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 32 || b > 127 {
			return false
		}
	}
	return true
}

func needsLongFormat(s string) bool {
	return len(s) == 0 || len(s) > 120 || !serializableOnLine(s)
}

func (r *Record) marshalKeyVal(key, val string) {
	r.buf.WriteString(key)
	if !needsLongFormat(val) {
		r.buf.WriteString(": ")
		r.buf.WriteString(val)
		r.buf.WriteByte('\n')
		return
	}
	r.buf.WriteString(":+")
	r.buf.WriteString(strconv.Itoa(len(val)))
	r.buf.WriteByte('\n')
	r.buf.WriteString(val)
	if NeedsNewline([]byte(val)) {
		r.buf.WriteByte('\n')
	}
}

// Marshal returns serialized record
func (r *Record) Marshal() []byte {
	return r.buf.Bytes()
}

// UnmarshalRecord decodes data created by Record.Marshal.
// Re-uses r if not nil
func UnmarshalRecord(d []byte, r *ReadRecord) (*ReadRecord, error) {
	if r == nil {
		r = &ReadRecord{}
	} else {
		r.Reset()
	}

	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return nil, fmt.Errorf("siser: missing '\\n' at the end of '%s'", d)
		}
		line := d[:idx]
		d = d[idx+1:]
		key, val, ok := bytes.Cut(line, []byte{':'})
		// val has at least ' ' or '+'
		if !ok || len(val) < 1 {
			return nil, fmt.Errorf("siser: line in unrecognized format: '%s'", line)
		}
		kind := val[0]
		val = val[1:]
		if kind == ' ' {
			r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(val)})
			continue
		}
		if kind != '+' {
			return nil, fmt.Errorf("siser: line in unrecognized format: '%s'", line)
		}

		n, err := strconv.Atoi(string(val))
		if err != nil {
			return nil, fmt.Errorf("siser: invalid length in '%s'", line)
		}
		if n < 0 || n > len(d) {
			return nil, fmt.Errorf("siser: length %d of value outside of remaining %d bytes", n, len(d))
		}
		val = d[:n]
		d = d[n:]
		if NeedsNewline(val) {
			if len(d) == 0 || d[0] != '\n' {
				return nil, fmt.Errorf("siser: missing '\\n' after value of '%s'", key)
			}
			d = d[1:]
		}
		r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(val)})
	}
	return r, nil
}

// Unmarshal resets record and decodes d into it
func (r *ReadRecord) Unmarshal(d []byte) error {
	rec, err := UnmarshalRecord(d, r)
	u.PanicIf(err == nil && rec != r, "UnmarshalRecord must return r on success")
	return err
}
