package dataset

import (
	"fmt"
)

// Reader reads records of a dataset written by Writer
type Reader struct {
	Path   string
	Format Format

	store Store
	n     int
}

// Open opens a dataset for reading. The format is detected from the file
func Open(path string) (*Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(path, format, StoreOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	n, err := store.Count(string(RoleImage) + "-")
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Reader{
		Path:   path,
		Format: format,
		store:  store,
		n:      n,
	}, nil
}

// Len returns number of records
func (r *Reader) Len() int {
	return r.n
}

func (r *Reader) Get(k Key) ([]byte, error) {
	if k.Index < 0 || k.Index >= MaxRecords {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, k.Index)
	}
	return r.store.Get(k.Bytes())
}

// Image returns payload of record i
func (r *Reader) Image(i int) ([]byte, error) {
	return r.Get(ImageKey(i))
}

// Label returns label of record i
func (r *Reader) Label(i int) ([]byte, error) {
	return r.Get(LabelKey(i))
}

// Each calls fn for every record in index order. Stops at the first error
func (r *Reader) Each(fn func(i int, image, label []byte) error) error {
	for i := range r.n {
		image, err := r.Image(i)
		if err != nil {
			return err
		}
		label, err := r.Label(i)
		if err != nil {
			return err
		}
		if err = fn(i, image, label); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies that the store holds exactly an image and a label for
// every index in 0..Len()-1 and no other keys
func (r *Reader) Check() error {
	counts := map[Role]int{}
	var err error
	fn := func(key string) bool {
		var k Key
		k, err = ParseKey(key)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrInvalid, err)
			return false
		}
		if k.Index >= r.n {
			err = fmt.Errorf("%w: '%s' is outside of %d records", ErrInvalid, key, r.n)
			return false
		}
		counts[k.Role]++
		return true
	}
	if err2 := r.store.Keys("", fn); err2 != nil {
		return err2
	}
	if err != nil {
		return err
	}
	if counts[RoleImage] != r.n || counts[RoleLabel] != r.n {
		return fmt.Errorf("%w: %d images and %d labels for %d records", ErrInvalid, counts[RoleImage], counts[RoleLabel], r.n)
	}
	return nil
}

func (r *Reader) Close() error {
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
