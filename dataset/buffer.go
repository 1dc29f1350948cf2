package dataset

// BufferEntry is a single key / value in a Buffer
type BufferEntry struct {
	Key   Key
	Value []byte
}

// Buffer is a batch of key / values waiting to be written to the store
// in a single transaction. It remembers insertion order.
type Buffer struct {
	entries []BufferEntry
	// index of a key in entries
	pos     map[Key]int
	records int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		entries: make([]BufferEntry, 0, capacity),
		pos:     make(map[Key]int, capacity),
	}
}

// Put adds a value. Putting a key again replaces the value but
// keeps its position
func (b *Buffer) Put(k Key, v []byte) {
	if i, ok := b.pos[k]; ok {
		b.entries[i].Value = v
		return
	}
	b.pos[k] = len(b.entries)
	if k.Role == RoleImage {
		b.records++
	}
	b.entries = append(b.entries, BufferEntry{Key: k, Value: v})
}

// Len returns number of entries
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Records returns number of records i.e. entries with RoleImage
func (b *Buffer) Records() int {
	return b.records
}

// Each calls fn for entries in insertion order. Stops at the first error
func (b *Buffer) Each(fn func(k Key, v []byte) error) error {
	for _, e := range b.entries {
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all entries but keeps allocated memory
func (b *Buffer) Clear() {
	clear(b.entries)
	b.entries = b.entries[:0]
	clear(b.pos)
	b.records = 0
}
