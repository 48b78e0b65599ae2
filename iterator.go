package lucaskv

import (
	"bytes"

	"github.com/cq-labs/lucaskv/keydir"
)

// Iterator walks the engine's key set in the order fixed by its
// IteratorOptions at the moment NewIterator was called. Later Puts,
// Deletes, or a Merge never change what an already-open Iterator sees; if a
// Merge removes a file an in-progress Iterator still has a stale position
// in, the next Value lookup fails with ErrStaleIterator instead of reading
// garbage.
type Iterator struct {
	engine   *Engine
	options  IteratorOptions
	keydirIt keydir.Iterator
}

// NewIterator returns an Iterator over a snapshot of the current key set.
func (e *Engine) NewIterator(opts IteratorOptions) *Iterator {
	it := &Iterator{
		engine:   e,
		options:  opts,
		keydirIt: e.keydirIndex.Iterator(opts.Reverse),
	}
	it.Rewind()
	return it
}

// Rewind resets the iterator to its first key, skipping forward past any
// leading keys that don't carry options.Prefix.
func (it *Iterator) Rewind() {
	it.keydirIt.Rewind()
	it.skipToPrefix()
}

// Seek positions the iterator at the first key >= key (or <= key if
// Reverse), then applies the prefix filter from there.
func (it *Iterator) Seek(key []byte) {
	it.keydirIt.Seek(key)
	it.skipToPrefix()
}

// Next advances to the following key, again honoring the prefix filter.
func (it *Iterator) Next() {
	it.keydirIt.Next()
	it.skipToPrefix()
}

// Valid reports whether the iterator is positioned at a usable key.
func (it *Iterator) Valid() bool {
	return it.keydirIt.Valid()
}

// Key returns the current key. Only valid while Valid() is true.
func (it *Iterator) Key() []byte {
	return it.keydirIt.Key()
}

// Value reads and decodes the current key's value from disk.
func (it *Iterator) Value() ([]byte, error) {
	pos := it.keydirIt.Value()
	record, err := it.engine.readRecordAtPos(pos)
	if err != nil {
		if err == ErrDataFileNotFound {
			return nil, ErrStaleIterator
		}
		return nil, err
	}
	return record.Value, nil
}

// Close releases the iterator's snapshot.
func (it *Iterator) Close() {
	it.keydirIt.Close()
}

func (it *Iterator) skipToPrefix() {
	if len(it.options.Prefix) == 0 {
		return
	}
	for ; it.keydirIt.Valid(); it.keydirIt.Next() {
		if bytes.HasPrefix(it.keydirIt.Key(), it.options.Prefix) {
			return
		}
	}
}
