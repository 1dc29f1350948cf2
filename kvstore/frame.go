package kvstore

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	"github.com/kjk/kvdataset/siser"
)

/*
After a magic line, the store is a sequence of siser records:

--- ${size} ${unix_ms} put ${codec} ${crc32} ${key}\n
${value}\n
...
--- ${size} ${unix_ms} commit ${crc32}\n
count: ${number of puts}\n
txn: ${transaction number}\n

A commit record closes a transaction. Puts not followed by a commit are
not part of the store.
*/

const (
	// Magic is the first line of every store file
	Magic = "kvstore 1\n"

	kindPut    = "put"
	kindCommit = "commit"
)

// recName is a parsed name of a siser record
type recName struct {
	kind  string
	codec Compression
	crc   uint32
	key   string
}

func checksum(d []byte) uint32 {
	return crc32.ChecksumIEEE(d)
}

func fmtCrc(crc uint32) string {
	return fmt.Sprintf("%08x", crc)
}

func parseCrc(s string) (uint32, error) {
	crc, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid checksum '%s'", s)
	}
	return uint32(crc), nil
}

func parseRecName(name string) (recName, error) {
	var rn recName
	parts := strings.Split(name, " ")
	rn.kind = parts[0]
	var err error
	switch {
	case rn.kind == kindPut && len(parts) == 4:
		if rn.codec, err = parseCodec(parts[1]); err != nil {
			return rn, err
		}
		if rn.crc, err = parseCrc(parts[2]); err != nil {
			return rn, err
		}
		rn.key = parts[3]
		err = validateKey(rn.key)
	case rn.kind == kindCommit && len(parts) == 2:
		rn.crc, err = parseCrc(parts[1])
	default:
		err = fmt.Errorf("invalid record name '%s'", name)
	}
	return rn, err
}

// verify checks that d matches the checksum in the name
func (rn *recName) verify(d []byte) error {
	if got := checksum(d); got != rn.crc {
		return fmt.Errorf("checksum mismatch in '%s' record: expected %s, got %s", rn.kind, fmtCrc(rn.crc), fmtCrc(got))
	}
	return nil
}

// writePut writes a value record. Returns position of data relative to
// the start of w
func writePut(w *siser.Writer, t time.Time, codec Compression, key string, d []byte) (int64, error) {
	name := kindPut + " " + codec.String() + " " + fmtCrc(checksum(d)) + " " + key
	if _, err := w.Write(d, t, name); err != nil {
		return 0, err
	}
	return w.DataPos, nil
}

func writeCommit(w *siser.Writer, t time.Time, count int, txn int) error {
	var rec siser.Record
	if err := rec.Write("count", count, "txn", txn); err != nil {
		return err
	}
	rec.Name = kindCommit + " " + fmtCrc(checksum(rec.Marshal()))
	rec.Timestamp = t
	_, err := w.WriteRecord(&rec)
	return err
}

// parseCommit returns number of puts in a commit record
func parseCommit(d []byte) (int, error) {
	rec, err := siser.UnmarshalRecord(d, nil)
	if err != nil {
		return 0, err
	}
	s, _ := rec.Get("count")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count '%s' in commit record", s)
	}
	return n, nil
}
