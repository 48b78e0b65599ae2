package fio

import "os"

// FileIO is the default IOManager, a plain append-mode os.File.
type FileIO struct {
	fd *os.File
}

func NewFileIO(file string) (*FileIO, error) {
	fd, err := os.OpenFile(file, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileIO{fd: fd}, nil
}

func (f *FileIO) Read(buf []byte, offset int64) (int, error) {
	return f.fd.ReadAt(buf, offset)
}

func (f *FileIO) Write(data []byte) (int, error) {
	return f.fd.Write(data)
}

func (f *FileIO) Sync() error {
	return f.fd.Sync()
}

func (f *FileIO) Close() error {
	return f.fd.Close()
}

func (f *FileIO) Size() (int64, error) {
	info, err := f.fd.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Truncate cuts the file down to size. Because the file is opened
// O_APPEND, every subsequent Write still lands at the new end regardless
// of any in-memory offset, so callers must truncate before relying on a
// WriteOffset that no longer matches the file's on-disk size.
func (f *FileIO) Truncate(size int64) error {
	return f.fd.Truncate(size)
}
