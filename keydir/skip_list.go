package keydir

import (
	"bytes"
	"sync"

	"github.com/cq-labs/lucaskv/model"
	"github.com/huandu/skiplist"
)

var _ Keydir = (*SkipList)(nil)

// keyComparable orders skiplist entries the same way BTree's Item does:
// plain lexicographic byte comparison.
type keyComparable struct{}

func (keyComparable) Compare(lhs, rhs interface{}) int {
	return bytes.Compare(lhs.([]byte), rhs.([]byte))
}

func (keyComparable) CalcScore(key interface{}) float64 {
	// unused: huandu/skiplist only consults CalcScore for its optional
	// fast-path; Compare alone is sufficient for correctness.
	return 0
}

// SkipList is the concurrent ordered-index Keydir backend. The chosen
// library does not expose a lock-free read path for arbitrary key types, so
// a single RWMutex is used to guard it -- callers still observe the same
// linearizable Get/Put semantics §4.3 requires from either backend.
type SkipList struct {
	list *skiplist.SkipList
	lock *sync.RWMutex
}

func NewSkipList() *SkipList {
	return &SkipList{
		list: skiplist.New(keyComparable{}),
		lock: &sync.RWMutex{},
	}
}

func (sl *SkipList) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	sl.lock.Lock()
	defer sl.lock.Unlock()

	var prev *model.RecordPos
	if elem := sl.list.Get(key); elem != nil {
		prev = elem.Value.(*model.RecordPos)
	}
	sl.list.Set(key, pos)
	return prev
}

func (sl *SkipList) Get(key []byte) *model.RecordPos {
	sl.lock.RLock()
	defer sl.lock.RUnlock()

	elem := sl.list.Get(key)
	if elem == nil {
		return nil
	}
	return elem.Value.(*model.RecordPos)
}

func (sl *SkipList) Delete(key []byte) *model.RecordPos {
	sl.lock.Lock()
	defer sl.lock.Unlock()

	elem := sl.list.Remove(key)
	if elem == nil {
		return nil
	}
	return elem.Value.(*model.RecordPos)
}

func (sl *SkipList) Size() int {
	sl.lock.RLock()
	defer sl.lock.RUnlock()
	return sl.list.Len()
}

func (sl *SkipList) Close() error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	sl.list.Init()
	return nil
}

func (sl *SkipList) ListKeys() [][]byte {
	sl.lock.RLock()
	defer sl.lock.RUnlock()

	keys := make([][]byte, 0, sl.list.Len())
	for elem := sl.list.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Key().([]byte))
	}
	return keys
}

func (sl *SkipList) Iterator(reverse bool) Iterator {
	sl.lock.RLock()
	defer sl.lock.RUnlock()

	values := make([]*Item, 0, sl.list.Len())
	for elem := sl.list.Front(); elem != nil; elem = elem.Next() {
		values = append(values, &Item{key: elem.Key().([]byte), pos: elem.Value.(*model.RecordPos)})
	}
	if reverse {
		for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
			values[i], values[j] = values[j], values[i]
		}
	}

	return &btreeIterator{values: values, reverse: reverse}
}
