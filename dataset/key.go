package dataset

import (
	"fmt"
	"strconv"

	"github.com/kjk/kvdataset/u"
)

// Role is the kind of value stored under a key
type Role string

const (
	RoleImage Role = "image"
	RoleLabel Role = "label"
)

const (
	// number of digits of index in a key. Zero-padding makes
	// lexicographic order of keys the same as numeric order of indexes
	indexDigits = 9
	// MaxRecords is the number of records that fit in indexDigits
	MaxRecords = 1_000_000_000
)

// Key identifies a value in the store e.g. image-000000012
type Key struct {
	Role  Role
	Index int
}

func ImageKey(i int) Key {
	return Key{Role: RoleImage, Index: i}
}

func LabelKey(i int) Key {
	return Key{Role: RoleLabel, Index: i}
}

// AppendTo appends serialized key to b
func (k Key) AppendTo(b []byte) []byte {
	u.PanicIf(k.Index < 0 || k.Index >= MaxRecords, "index %d out of range", k.Index)
	b = append(b, k.Role...)
	b = append(b, '-')
	var tmp [indexDigits]byte
	n := strconv.AppendInt(tmp[:0], int64(k.Index), 10)
	for i := len(n); i < indexDigits; i++ {
		b = append(b, '0')
	}
	return append(b, n...)
}

func (k Key) Bytes() []byte {
	return k.AppendTo(make([]byte, 0, len(k.Role)+1+indexDigits))
}

func (k Key) String() string {
	return string(k.Bytes())
}

// ParseKey parses a key as serialized by Key.String()
func ParseKey(s string) (Key, error) {
	n := len(s) - indexDigits - 1
	if n <= 0 || s[n] != '-' {
		return Key{}, fmt.Errorf("invalid key '%s'", s)
	}
	role := Role(s[:n])
	if role != RoleImage && role != RoleLabel {
		return Key{}, fmt.Errorf("invalid role in key '%s'", s)
	}
	idx, err := strconv.Atoi(s[n+1:])
	if err != nil || idx < 0 {
		return Key{}, fmt.Errorf("invalid index in key '%s'", s)
	}
	return Key{Role: role, Index: idx}, nil
}
