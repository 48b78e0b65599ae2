package keydir

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cq-labs/lucaskv/model"
	"github.com/google/btree"
)

var _ Keydir = (*BTree)(nil)

const defaultDegree = 32

// BTree is the guarded-balanced-tree Keydir backend: a google/btree.BTree
// protected by a single RWMutex. Reads and writes are linearizable through
// that lock.
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// Item implements btree.Item, ordering entries by key bytes.
type Item struct {
	key []byte
	pos *model.RecordPos
}

func (i *Item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*Item).key) < 0
}

func NewBTree(degree int) *BTree {
	if degree <= 0 {
		degree = defaultDegree
	}
	return &BTree{
		tree: btree.New(degree),
		lock: &sync.RWMutex{},
	}
}

func (bt *BTree) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	item := &Item{key: key, pos: pos}

	bt.lock.Lock()
	defer bt.lock.Unlock()

	old := bt.tree.ReplaceOrInsert(item)
	if old == nil {
		return nil
	}
	return old.(*Item).pos
}

func (bt *BTree) Get(key []byte) *model.RecordPos {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	item := bt.tree.Get(&Item{key: key})
	if item == nil {
		return nil
	}
	return item.(*Item).pos
}

func (bt *BTree) Delete(key []byte) *model.RecordPos {
	bt.lock.Lock()
	defer bt.lock.Unlock()

	old := bt.tree.Delete(&Item{key: key})
	if old == nil {
		return nil
	}
	return old.(*Item).pos
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Close() error {
	bt.lock.Lock()
	defer bt.lock.Unlock()
	bt.tree.Clear(false)
	return nil
}

func (bt *BTree) ListKeys() [][]byte {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	keys := make([][]byte, 0, bt.tree.Len())
	bt.tree.Ascend(func(item btree.Item) bool {
		keys = append(keys, item.(*Item).key)
		return true
	})
	return keys
}

func (bt *BTree) Iterator(reverse bool) Iterator {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	values := make([]*Item, 0, bt.tree.Len())
	collect := func(item btree.Item) bool {
		values = append(values, item.(*Item))
		return true
	}
	if reverse {
		bt.tree.Descend(collect)
	} else {
		bt.tree.Ascend(collect)
	}

	return &btreeIterator{values: values, reverse: reverse}
}

type btreeIterator struct {
	values  []*Item
	curIdx  int
	reverse bool
}

func (bti *btreeIterator) Rewind() {
	bti.curIdx = 0
}

// Seek moves to the first entry with key >= target (or <= target when
// iterating in reverse).
func (bti *btreeIterator) Seek(target []byte) {
	if bti.reverse {
		bti.curIdx = sort.Search(len(bti.values), func(i int) bool {
			return bytes.Compare(bti.values[i].key, target) <= 0
		})
		return
	}
	bti.curIdx = sort.Search(len(bti.values), func(i int) bool {
		return bytes.Compare(bti.values[i].key, target) >= 0
	})
}

func (bti *btreeIterator) Next() {
	bti.curIdx++
}

func (bti *btreeIterator) Valid() bool {
	return bti.curIdx >= 0 && bti.curIdx < len(bti.values)
}

func (bti *btreeIterator) Key() []byte {
	return bti.values[bti.curIdx].key
}

func (bti *btreeIterator) Value() *model.RecordPos {
	return bti.values[bti.curIdx].pos
}

func (bti *btreeIterator) Close() {
	bti.values = nil
}
