package keydir

import "github.com/cq-labs/lucaskv/model"

// Keydir is the in-memory index mapping every live key to the location of
// its most recent record. Two backends implement it (BTree, SkipList);
// callers must observe identical ordering and concurrency semantics from
// either.
type Keydir interface {
	// Put installs pos for key and returns the previous position, or nil if
	// key had none.
	Put(key []byte, pos *model.RecordPos) *model.RecordPos

	// Get returns key's current position, or nil if key is absent.
	Get(key []byte) *model.RecordPos

	// Delete removes key and returns its former position, or nil if key was
	// already absent.
	Delete(key []byte) *model.RecordPos

	// Size returns the number of live keys.
	Size() int

	// ListKeys returns every key in ascending lexicographic order.
	ListKeys() [][]byte

	// Iterator returns a cursor over a snapshot of the current key set, in
	// ascending order unless reverse is true.
	Iterator(reverse bool) Iterator

	Close() error
}

// Iterator walks a Keydir snapshot taken at the moment Iterator() was
// called; later mutations to the Keydir are not reflected.
type Iterator interface {
	Rewind()
	Seek(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() *model.RecordPos
	Close()
}
