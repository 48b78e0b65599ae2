package keydir

import (
	"testing"

	"github.com/cq-labs/lucaskv/model"
	"github.com/stretchr/testify/assert"
)

func TestSkipList_PutGetDelete(t *testing.T) {
	sl := NewSkipList()

	prev := sl.Put([]byte("a"), &model.RecordPos{Fid: 1})
	assert.Nil(t, prev)

	pos := sl.Get([]byte("a"))
	assert.Equal(t, uint32(1), pos.Fid)

	prev = sl.Put([]byte("a"), &model.RecordPos{Fid: 2})
	assert.NotNil(t, prev)
	assert.Equal(t, uint32(1), prev.Fid)

	old := sl.Delete([]byte("a"))
	assert.NotNil(t, old)
	assert.Nil(t, sl.Get([]byte("a")))
}

func TestSkipList_MatchesBTreeOrdering(t *testing.T) {
	bt := NewBTree(32)
	sl := NewSkipList()

	keys := []string{"banana", "apple", "cherry", "date"}
	for i, k := range keys {
		bt.Put([]byte(k), &model.RecordPos{Fid: uint32(i)})
		sl.Put([]byte(k), &model.RecordPos{Fid: uint32(i)})
	}

	assert.Equal(t, bt.ListKeys(), sl.ListKeys())
	assert.Equal(t, bt.Size(), sl.Size())

	btIt, slIt := bt.Iterator(true), sl.Iterator(true)
	defer btIt.Close()
	defer slIt.Close()
	for btIt.Rewind(); btIt.Valid(); btIt.Next() {
		assert.True(t, slIt.Valid())
		assert.Equal(t, btIt.Key(), slIt.Key())
		slIt.Next()
	}
	assert.False(t, slIt.Valid())
}
