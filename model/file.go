package model

import (
	"fmt"
	"path/filepath"

	"github.com/cq-labs/lucaskv/fio"
)

const (
	// DataFileSuffix is appended to the nine-digit zero-padded file id that
	// names every data file.
	DataFileSuffix = ".data"

	// HintFileName is the companion file a merge writes next to the
	// rewritten data files to accelerate the next startup's recovery scan.
	HintFileName = "hint-index"

	// MergeFinishedFileName marks a completed merge directory ready to be
	// swapped into the main directory, either inline by Merge or on the next
	// open. The swap moves it into the main directory, where it keeps
	// recording the merge boundary.
	MergeFinishedFileName = "merge-finished"

	// SeqNoFileName persists the latest transaction sequence across restarts.
	SeqNoFileName = "seq-no"
)

// DataFileName returns the on-disk name for the data file with the given id.
func DataFileName(dirPath string, fid uint32) string {
	return filepath.Join(dirPath, fmt.Sprintf("%09d", fid)+DataFileSuffix)
}

// ParseDataFileId extracts the numeric file id out of a data file's base
// name, or ok=false if name does not look like a data file.
func ParseDataFileId(name string) (fid uint32, ok bool) {
	if len(name) <= len(DataFileSuffix) || name[len(name)-len(DataFileSuffix):] != DataFileSuffix {
		return 0, false
	}
	var n uint32
	if _, err := fmt.Sscanf(name[:len(name)-len(DataFileSuffix)], "%09d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// DataFile wraps a single append-only log file. WriteOffset is meaningful
// only while the file is active; older, sealed files never advance it again.
type DataFile struct {
	Fid         uint32
	WriteOffset int64
	IoManager   fio.IOManager
}

// OpenDataFile wraps an already-opened IOManager in a DataFile handle. The
// caller is responsible for advancing WriteOffset to the file's current size
// when reopening a file that already has data (see recovery).
func OpenDataFile(fid uint32, ioManager fio.IOManager) *DataFile {
	return &DataFile{
		Fid:       fid,
		IoManager: ioManager,
	}
}

func (df *DataFile) Sync() error {
	return df.IoManager.Sync()
}

func (df *DataFile) Close() error {
	return df.IoManager.Close()
}

// Write appends data to the file and advances WriteOffset by the number of
// bytes actually written. It is the only DataFile method that changes
// WriteOffset; recovery and merge set it directly when reopening a file.
func (df *DataFile) Write(data []byte) (int64, error) {
	offset := df.WriteOffset
	size, err := df.IoManager.Write(data)
	if err != nil {
		return 0, err
	}
	df.WriteOffset += int64(size)
	return offset, nil
}

// Size reports the file's current logical size on disk.
func (df *DataFile) Size() (int64, error) {
	return df.IoManager.Size()
}

// ReadRecordHeader returns up to MaxHeaderSize bytes starting at offset,
// clamped to the file's size so a trailing partial header can still be read
// (and then recognized as truncation by the codec).
func (df *DataFile) ReadRecordHeader(offset int64) ([]byte, error) {
	fileSize, err := df.IoManager.Size()
	if err != nil {
		return nil, err
	}

	var headerBuf int64 = MaxHeaderSize
	if headerBuf+offset > fileSize {
		headerBuf = fileSize - offset
	}
	if headerBuf <= 0 {
		return nil, nil
	}

	return df.readNBytes(offset, headerBuf)
}

func (df *DataFile) ReadRecord(off, size int64) ([]byte, error) {
	return df.readNBytes(off, size)
}

func (df *DataFile) readNBytes(offset, n int64) ([]byte, error) {
	buf := make([]byte, n)
	_, err := df.IoManager.Read(buf, offset)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// SwitchToStandardIO demotes a memory-mapped read-only file to the regular
// os.File-backed IOManager so it can accept appends again (only meaningful
// for the file that was active at the moment recovery finished).
func (df *DataFile) SwitchToStandardIO(dirPath string) error {
	if err := df.IoManager.Close(); err != nil {
		return err
	}
	stdIO, err := fio.NewFileIO(DataFileName(dirPath, df.Fid))
	if err != nil {
		return err
	}
	df.IoManager = stdIO
	return nil
}
