package fio

import (
	"errors"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrMemoryMappedWrite is returned by MemoryMappedIO.Write: mmap reads are
// only ever used during the startup recovery scan, never for appends.
var ErrMemoryMappedWrite = errors.New("lucaskv: cannot write to a memory-mapped data file")

// MemoryMappedIO maps a whole data file for sequential read access. It is
// only used while scanning files during recovery; the engine demotes any
// file it opened this way back to a Standard FileIO before accepting writes.
type MemoryMappedIO struct {
	fd  *os.File
	mm  mmap.MMap
	len int64
}

func NewMemoryMappedIO(file string) (*MemoryMappedIO, error) {
	fd, err := os.OpenFile(file, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}

	if info.Size() == 0 {
		// mmap.Map rejects zero-length files; an empty data file needs no
		// mapping at all, reads simply return EOF.
		return &MemoryMappedIO{fd: fd, len: 0}, nil
	}

	m, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		fd.Close()
		return nil, err
	}

	return &MemoryMappedIO{fd: fd, mm: m, len: info.Size()}, nil
}

func (m *MemoryMappedIO) Read(buf []byte, offset int64) (int, error) {
	if offset >= m.len {
		return 0, io.EOF
	}
	end := offset + int64(len(buf))
	short := end > m.len
	if short {
		end = m.len
	}
	n := copy(buf, m.mm[offset:end])
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryMappedIO) Write([]byte) (int, error) {
	return 0, ErrMemoryMappedWrite
}

func (m *MemoryMappedIO) Truncate(int64) error {
	return ErrMemoryMappedWrite
}

func (m *MemoryMappedIO) Sync() error {
	return nil
}

func (m *MemoryMappedIO) Close() error {
	if m.mm != nil {
		if err := m.mm.Unmap(); err != nil {
			return err
		}
	}
	return m.fd.Close()
}

func (m *MemoryMappedIO) Size() (int64, error) {
	return m.len, nil
}
