package keydir

import (
	"testing"

	"github.com/cq-labs/lucaskv/model"
	"github.com/stretchr/testify/assert"
)

func TestBTree_PutGetDelete(t *testing.T) {
	bt := NewBTree(32)

	prev := bt.Put([]byte("a"), &model.RecordPos{Fid: 1, Size: 2, Offset: 3})
	assert.Nil(t, prev)

	pos := bt.Get([]byte("a"))
	assert.Equal(t, uint32(1), pos.Fid)

	prev = bt.Put([]byte("a"), &model.RecordPos{Fid: 2, Size: 2, Offset: 3})
	assert.NotNil(t, prev)
	assert.Equal(t, uint32(1), prev.Fid)

	pos = bt.Get([]byte("a"))
	assert.Equal(t, uint32(2), pos.Fid)

	old := bt.Delete([]byte("a"))
	assert.NotNil(t, old)
	assert.Nil(t, bt.Delete([]byte("a")))
	assert.Nil(t, bt.Get([]byte("a")))
}

func TestBTree_ListKeysAscending(t *testing.T) {
	bt := NewBTree(32)
	for _, k := range []string{"c", "a", "b"} {
		bt.Put([]byte(k), &model.RecordPos{Fid: 1})
	}

	keys := bt.ListKeys()
	assert.Equal(t, 3, len(keys))
	assert.Equal(t, []byte("a"), keys[0])
	assert.Equal(t, []byte("b"), keys[1])
	assert.Equal(t, []byte("c"), keys[2])
}

func TestBTree_IteratorOrderAndSeek(t *testing.T) {
	bt := NewBTree(32)
	for i := 0; i < 5; i++ {
		bt.Put([]byte{byte('a' + i)}, &model.RecordPos{Fid: uint32(i)})
	}

	it := bt.Iterator(false)
	defer it.Close()

	var got []byte
	for it.Rewind(); it.Valid(); it.Next() {
		got = append(got, it.Key()[0])
	}
	assert.Equal(t, []byte("abcde"), got)

	it.Seek([]byte("c"))
	assert.True(t, it.Valid())
	assert.Equal(t, []byte("c"), it.Key())

	rit := bt.Iterator(true)
	defer rit.Close()
	var gotRev []byte
	for rit.Rewind(); rit.Valid(); rit.Next() {
		gotRev = append(gotRev, rit.Key()[0])
	}
	assert.Equal(t, []byte("edcba"), gotRev)
}
