// Package kvstore is an append-only key-value store kept in a single file.
//
// Values are written in transactions. A transaction is appended to the end
// of the file as a list of put frames followed by a commit frame. Only data
// followed by a commit frame is visible, so a crash in the middle of a write
// never exposes a partially written transaction. When the store is opened,
// an uncommitted tail is truncated.
//
// Keys can't contain spaces or newlines. Values are arbitrary bytes and can
// optionally be compressed with zstd or brotli.
//
// Putting a key that already exists overwrites it (the last committed value
// wins) unless Options.NoOverwrite is set, in which case Put fails with
// ErrKeyExists.
//
// # Basic Usage
//
//	s, err := kvstore.Open("data.kv", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	tx, err := s.Begin()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tx.Rollback()
//	err = tx.Put([]byte("image-000000000"), data)
//	// ...
//	err = tx.Commit()
//
//	d, err := s.Get([]byte("image-000000000"))
//
// # Thread Safety
//
// The Store is safe for concurrent use within one process but only one
// write transaction can be active at a time. Multiple processes must not
// write to the same file.
package kvstore
