package model

import (
	"path/filepath"
	"testing"

	"github.com/cq-labs/lucaskv/fio"
	"github.com/stretchr/testify/assert"
)

func newTestDataFile(t *testing.T) *DataFile {
	path := filepath.Join(t.TempDir(), "000000000.data")
	ioManager, err := fio.NewFileIO(path)
	assert.Nil(t, err)
	return OpenDataFile(0, ioManager)
}

func TestOpenDataFile(t *testing.T) {
	df := newTestDataFile(t)
	assert.NotNil(t, df)
}

func TestDataFile_Write(t *testing.T) {
	df := newTestDataFile(t)

	off, err := df.Write([]byte("aaa"))
	assert.Nil(t, err)
	assert.Equal(t, int64(0), off)
	assert.Equal(t, int64(3), df.WriteOffset)

	off, err = df.Write([]byte("bbb"))
	assert.Nil(t, err)
	assert.Equal(t, int64(3), off)
	assert.Equal(t, int64(6), df.WriteOffset)
}

func TestDataFile_ReadRecordHeader(t *testing.T) {
	df := newTestDataFile(t)

	header := []byte{0, 0, 0, 123, 1, 130, 2, 4}
	_, err := df.Write(header)
	assert.Nil(t, err)

	data, err := df.ReadRecordHeader(0)
	assert.Nil(t, err)
	assert.Equal(t, header, data)

	data, err = df.ReadRecordHeader(1)
	assert.Nil(t, err)
	assert.Equal(t, header[1:], data)
}

func TestDataFile_ReadRecordHeader_ClampsAtEOF(t *testing.T) {
	df := newTestDataFile(t)
	_, err := df.Write([]byte{1, 2, 3})
	assert.Nil(t, err)

	data, err := df.ReadRecordHeader(1)
	assert.Nil(t, err)
	assert.Equal(t, []byte{2, 3}, data)
}

func TestDataFile_ReadRecord(t *testing.T) {
	df := newTestDataFile(t)

	data := []byte{0, 0, 0, 123, 1, 130, 2, 4}
	_, err := df.Write(data)
	assert.Nil(t, err)

	readData, err := df.ReadRecord(0, 8)
	assert.Nil(t, err)
	assert.Equal(t, data, readData)

	readData, err = df.ReadRecord(1, 7)
	assert.Nil(t, err)
	assert.Equal(t, data[1:], readData)
}

func TestDataFile_Sync(t *testing.T) {
	df := newTestDataFile(t)
	_, err := df.Write([]byte("aaa"))
	assert.Nil(t, err)
	assert.Nil(t, df.Sync())
}

func TestDataFileName_ParseDataFileId(t *testing.T) {
	name := DataFileName("/tmp/dir", 42)
	assert.Equal(t, filepath.Join("/tmp/dir", "000000042.data"), name)

	fid, ok := ParseDataFileId(filepath.Base(name))
	assert.True(t, ok)
	assert.Equal(t, uint32(42), fid)

	_, ok = ParseDataFileId("hint-index")
	assert.False(t, ok)
}
