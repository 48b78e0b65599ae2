package lucaskv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dir := t.TempDir()
	full := append([]Option{WithDirPath(dir)}, opts...)
	e, err := Open(full...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpen(t *testing.T) {
	e := openTestEngine(t)
	assert.NotNil(t, e)
}

func TestOpen_RejectsEmptyDirPath(t *testing.T) {
	_, err := Open()
	assert.ErrorIs(t, err, ErrDirectoryPathInvalid)
}

func TestOpen_RejectsConcurrentOpen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(WithDirPath(dir))
	require.NoError(t, err)
	defer e.Close()

	_, err = Open(WithDirPath(dir))
	assert.ErrorIs(t, err, ErrDirectoryInUse)
}

func TestEngine_Put(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("key"), []byte("value")))
	value, err := e.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(value))

	require.NoError(t, e.Put([]byte("key"), []byte("value1")))
	value, err = e.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "value1", string(value))
}

func TestEngine_Put_EmptyKey(t *testing.T) {
	e := openTestEngine(t)
	assert.ErrorIs(t, e.Put(nil, []byte("value")), ErrKeyIsEmpty)
}

func TestEngine_Put_RotatesActiveFile(t *testing.T) {
	e := openTestEngine(t, WithDataFileSize(256))

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		value := []byte(fmt.Sprintf("value-%03d", i))
		require.NoError(t, e.Put(key, value))
	}
	assert.Greater(t, len(e.olderFiles), 0)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		value, err := e.Get(key)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%03d", i), string(value))
	}
}

func TestEngine_Get_NotFound(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngine_Delete(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("key1"), []byte("value1")))
	_, err := e.Get([]byte("key1"))
	require.NoError(t, err)

	require.NoError(t, e.Delete([]byte("key1")))
	_, err = e.Get([]byte("key1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngine_Delete_AbsentKeyIsNotAnError(t *testing.T) {
	e := openTestEngine(t)
	assert.NoError(t, e.Delete([]byte("never-written")))
}

func TestEngine_ListKeys(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("key2"), []byte("value2")))
	require.NoError(t, e.Put([]byte("key1"), []byte("value1")))

	keys := e.ListKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "key1", string(keys[0]))
	assert.Equal(t, "key2", string(keys[1]))
}

func TestEngine_Fold(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("key1"), []byte("value1")))
	require.NoError(t, e.Put([]byte("key2"), []byte("value2")))
	require.NoError(t, e.Put([]byte("key3"), []byte("value3")))

	var seen []string
	require.NoError(t, e.Fold(func(key, value []byte) bool {
		seen = append(seen, string(key))
		return string(key) != "key2"
	}))
	assert.Equal(t, []string{"key1", "key2"}, seen)
}

func TestEngine_Close_IsIdempotent(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngine_OperationsAfterClose(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(WithDirPath(dir))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Put([]byte("k"), []byte("v")), ErrEngineClosed)
	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

// TestEngine_RecoversAcrossRestart exercises scenario S1 from the engine's
// write path/recovery contract: close and reopen against the same
// directory must reproduce every live key unchanged.
func TestEngine_RecoversAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(WithDirPath(dir), WithDataFileSize(512))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		value := []byte(fmt.Sprintf("value-%03d", i))
		require.NoError(t, e.Put(key, value))
	}
	for i := 0; i < 30; i++ {
		require.NoError(t, e.Delete([]byte(fmt.Sprintf("key-%03d", i))))
	}
	require.NoError(t, e.Close())

	reopened, err := Open(WithDirPath(dir), WithDataFileSize(512))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 70, reopened.keydirIndex.Size())
	for i := 30; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value, err := reopened.Get([]byte(key))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%03d", i), string(value))
	}
	for i := 0; i < 30; i++ {
		_, err := reopened.Get([]byte(fmt.Sprintf("key-%03d", i)))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	}
}

func TestEngine_RecoversWithSkipListIndex(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(WithDirPath(dir), WithIndexType(SkipList))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Close())

	reopened, err := Open(WithDirPath(dir), WithIndexType(SkipList))
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))
}
