package lucaskv

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cq-labs/lucaskv/codec"
	"github.com/cq-labs/lucaskv/fio"
	"github.com/cq-labs/lucaskv/keydir"
	"github.com/cq-labs/lucaskv/model"
	"github.com/gofrs/flock"
)

// Engine is an open Bitcask-style key/value store. The zero value is not
// usable; construct one with Open.
type Engine struct {
	options *Options

	fileLock *flock.Flock

	// mu is the write mutex (§5, lock #2): it serializes every append and
	// file rotation. Reads never take it.
	mu sync.Mutex

	// ioMu is the IO manager map lock (§5, lock #3): it guards activeFile
	// and olderFiles against concurrent readers while a write rotates files.
	ioMu sync.RWMutex

	activeFile *model.DataFile
	olderFiles map[uint32]*model.DataFile

	keydirIndex keydir.Keydir

	// batchMu is the batch-commit mutex (§5, lock #1): held for the whole
	// of WriteBatch.Commit, ahead of mu.
	batchMu sync.Mutex
	txSeq   uint64

	// mergeMu is the merge mutex (§5, lock #5): only one merge runs at a
	// time.
	mergeMu   sync.Mutex
	isMerging bool

	bytesSinceSync uint64

	closed bool
}

// Open acquires a directory-level exclusive lock, runs recovery, and
// returns a ready Engine. Fails with ErrDirectoryInUse if another process
// holds the lock, or ErrCorruptDirectory if recovery cannot complete.
func Open(opts ...Option) (*Engine, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(options.DirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(options.DirPath, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToCreateDir, err)
		}
	}

	if options.ioManagerCreator == nil {
		dirPath := options.DirPath
		options.ioManagerCreator = func(fid uint32) (fio.IOManager, error) {
			return fio.NewFileIO(model.DataFileName(dirPath, fid))
		}
	}

	fileLock := fio.NewFlock(options.DirPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrDirectoryInUse
	}

	engine := &Engine{
		options:     options,
		fileLock:    fileLock,
		olderFiles:  make(map[uint32]*model.DataFile),
		keydirIndex: newKeydirIndex(options.IndexType),
	}

	if err := engine.recover(); err != nil {
		_ = fileLock.Unlock()
		return nil, err
	}

	return engine, nil
}

func newKeydirIndex(t IndexType) keydir.Keydir {
	if t == SkipList {
		return keydir.NewSkipList()
	}
	return keydir.NewBTree(32)
}

// Put writes key=value as a Normal record. key must be non-empty. The
// keydir update happens before mu is released (§5), so a concurrent Get
// can never observe an append that a later-ordered Put's keydir update
// then overwrites with a stale location.
func (e *Engine) Put(key []byte, value []byte) error {
	if e.closed {
		return ErrEngineClosed
	}
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}

	record := &model.Record{
		Type:  model.RecordNormal,
		Key:   withSeqPrefix(key, noTransactionSeq),
		Value: value,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.appendRecord(record)
	if err != nil {
		return err
	}

	e.keydirIndex.Put(key, pos)
	return nil
}

// Delete removes key. If key is already absent, it returns success without
// writing a tombstone (see spec.md §9's Open Question).
func (e *Engine) Delete(key []byte) error {
	if e.closed {
		return ErrEngineClosed
	}
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.keydirIndex.Get(key) == nil {
		return nil
	}

	record := &model.Record{
		Type: model.RecordTombstone,
		Key:  withSeqPrefix(key, noTransactionSeq),
	}

	if _, err := e.appendRecord(record); err != nil {
		return err
	}

	e.keydirIndex.Delete(key)
	return nil
}

// Get returns the current value of key, or ErrKeyNotFound if it is absent
// or tombstoned.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if len(key) == 0 {
		return nil, ErrKeyIsEmpty
	}

	pos := e.keydirIndex.Get(key)
	if pos == nil {
		return nil, ErrKeyNotFound
	}

	record, err := e.readRecordAtPos(pos)
	if err != nil {
		return nil, err
	}
	if record.Type != model.RecordNormal {
		// defensive: the keydir invariant means this should never happen
		return nil, ErrKeyNotFound
	}
	return record.Value, nil
}

// ListKeys returns every live key in ascending lexicographic order.
func (e *Engine) ListKeys() [][]byte {
	return e.keydirIndex.ListKeys()
}

// Fold invokes fn on every (key, value) pair in ascending key order, and
// stops early if fn returns false.
func (e *Engine) Fold(fn func(key, value []byte) bool) error {
	if e.closed {
		return ErrEngineClosed
	}

	it := e.keydirIndex.Iterator(false)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		record, err := e.readRecordAtPos(it.Value())
		if err != nil {
			return err
		}
		if !fn(it.Key(), record.Value) {
			break
		}
	}
	return nil
}

// Sync flushes the active file to disk.
func (e *Engine) Sync() error {
	if e.closed {
		return ErrEngineClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeFile == nil {
		return nil
	}
	return e.activeFile.Sync()
}

// Close syncs the active file, releases the directory lock, and releases
// resources. Further operations fail with ErrEngineClosed.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeFile != nil {
		if err := e.activeFile.Sync(); err != nil {
			return err
		}
		if err := e.persistTxSeq(); err != nil {
			return err
		}
		if err := e.activeFile.Close(); err != nil {
			return err
		}
	}

	e.ioMu.Lock()
	for _, f := range e.olderFiles {
		_ = f.Close()
	}
	e.ioMu.Unlock()

	if err := e.keydirIndex.Close(); err != nil {
		return err
	}

	if err := e.fileLock.Unlock(); err != nil {
		return err
	}

	e.closed = true
	return nil
}

// appendRecordWithLock acquires the write mutex and appends record,
// rotating the active file first if it would overflow. The keydir is
// updated by the caller, after the append succeeds, never inside this
// function.
func (e *Engine) appendRecordWithLock(record *model.Record) (*model.RecordPos, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendRecord(record)
}

func (e *Engine) appendRecord(record *model.Record) (*model.RecordPos, error) {
	if e.activeFile == nil {
		if err := e.openNewActiveFile(); err != nil {
			return nil, err
		}
	}

	encoded := e.options.codec.EncodeRecord(record)
	size := int64(len(encoded))
	if size > e.options.DataFileSize {
		return nil, ErrBigValue
	}

	if e.activeFile.WriteOffset+size > e.options.DataFileSize {
		if err := e.rotateActiveFile(); err != nil {
			return nil, err
		}
	}

	offset, err := e.activeFile.Write(encoded)
	if err != nil {
		return nil, err
	}

	e.bytesSinceSync += uint64(size)
	shouldSync := e.options.SyncWrites ||
		(e.options.BytesPerSync > 0 && e.bytesSinceSync >= e.options.BytesPerSync)
	if shouldSync {
		if err := e.activeFile.Sync(); err != nil {
			return nil, err
		}
		e.bytesSinceSync = 0
	}

	return &model.RecordPos{
		Fid:    e.activeFile.Fid,
		Offset: offset,
		Size:   uint32(size),
	}, nil
}

// openNewActiveFile creates the very first active file (fid 0). Must be
// called with mu held.
func (e *Engine) openNewActiveFile() error {
	ioManager, err := e.options.ioManagerCreator(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToOpenDataFile, err)
	}
	e.activeFile = model.OpenDataFile(0, ioManager)
	return nil
}

// rotateActiveFile seals the current active file and opens the next one.
// Must be called with mu held.
func (e *Engine) rotateActiveFile() error {
	if err := e.activeFile.Sync(); err != nil {
		return err
	}

	nextFid := e.activeFile.Fid + 1
	ioManager, err := e.options.ioManagerCreator(nextFid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToOpenDataFile, err)
	}
	newFile := model.OpenDataFile(nextFid, ioManager)

	e.ioMu.Lock()
	e.olderFiles[e.activeFile.Fid] = e.activeFile
	e.activeFile = newFile
	e.ioMu.Unlock()
	return nil
}

// dataFileForRead returns the data file handle for fid, consulting the
// active file first and then the older files, all under ioMu's read lock
// (the active file pointer only ever changes under mu+ioMu together, so a
// racing rotate is never observed half-done).
func (e *Engine) dataFileForRead(fid uint32) (*model.DataFile, error) {
	e.ioMu.RLock()
	defer e.ioMu.RUnlock()

	if e.activeFile != nil && e.activeFile.Fid == fid {
		return e.activeFile, nil
	}
	df, ok := e.olderFiles[fid]
	if !ok {
		return nil, ErrDataFileNotFound
	}
	return df, nil
}

// readRecordAtPos decodes and CRC-verifies the record a keydir entry
// points at. A codec-level failure here means the bytes the keydir points
// at are corrupt, not merely that decoding the request failed, so it is
// surfaced as ErrInvalidCRC rather than the underlying codec error (§7).
func (e *Engine) readRecordAtPos(pos *model.RecordPos) (*model.Record, error) {
	df, err := e.dataFileForRead(pos.Fid)
	if err != nil {
		return nil, err
	}
	record, _, err := e.decodeRecordAt(df, pos.Offset)
	if err != nil {
		if errors.Is(err, codec.ErrCrcMismatch) || errors.Is(err, codec.ErrCorruptHeader) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCRC, err)
		}
		return nil, err
	}
	return record, nil
}

// decodeRecordAt reads and decodes one full record starting at offset in
// df, returning the record and the number of bytes it occupies on disk.
func (e *Engine) decodeRecordAt(df *model.DataFile, offset int64) (*model.Record, int64, error) {
	headerBuf, err := df.ReadRecordHeader(offset)
	if err != nil {
		return nil, 0, err
	}
	header, err := e.options.codec.DecodeHeader(headerBuf)
	if err != nil {
		return nil, 0, err
	}

	total := header.HeaderSize + int64(header.KeySize) + int64(header.ValueSize) + model.CrcSize
	buf, err := df.ReadRecord(offset, total)
	if err != nil {
		return nil, 0, err
	}

	record, err := e.options.codec.DecodePayload(buf, header)
	if err != nil {
		return nil, 0, err
	}
	return record, total, nil
}

func (e *Engine) nextTxSeq() uint64 {
	return atomic.AddUint64(&e.txSeq, 1)
}
