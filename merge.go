package lucaskv

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cq-labs/lucaskv/fio"
	"github.com/cq-labs/lucaskv/model"
)

// mergeFinishedKey is the fixed key the merge-finished marker record
// carries; its value is the decimal non-merge file id.
const mergeFinishedKey = "merge.finished"

// Merge rewrites every sealed data file into a fresh, compacted set holding
// only the currently live records, writes a hint file indexing them, and
// swaps the result into place under the write mutex. Only one merge runs at
// a time; a concurrent call returns ErrMergeInProgress immediately rather
// than waiting.
func (e *Engine) Merge() error {
	if e.closed {
		return ErrEngineClosed
	}

	e.mergeMu.Lock()
	if e.isMerging {
		e.mergeMu.Unlock()
		return ErrMergeInProgress
	}
	e.isMerging = true
	e.mergeMu.Unlock()
	defer func() {
		e.mergeMu.Lock()
		e.isMerging = false
		e.mergeMu.Unlock()
	}()

	mergeFiles, nonMergeFid, err := e.rotateMergeFiles()
	if err != nil {
		return err
	}
	if len(mergeFiles) == 0 {
		return nil
	}

	mergePath := mergeDirPath(e.options.DirPath)
	if err := os.RemoveAll(mergePath); err != nil {
		return err
	}
	if err := os.MkdirAll(mergePath, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToCreateDir, err)
	}

	mergeEngine, err := Open(
		WithDirPath(mergePath),
		WithDataFileSize(e.options.DataFileSize),
		WithUseMmapWhenStartup(false),
		WithCodec(e.options.codec),
	)
	if err != nil {
		return err
	}

	hintFile, err := e.openHintFile(mergePath)
	if err != nil {
		_ = mergeEngine.Close()
		return err
	}

	for _, df := range mergeFiles {
		if err := e.rewriteLiveRecords(df, mergeEngine, hintFile); err != nil {
			_ = hintFile.Close()
			_ = mergeEngine.Close()
			return err
		}
	}

	if err := hintFile.Sync(); err != nil {
		return err
	}
	if err := hintFile.Close(); err != nil {
		return err
	}
	if err := mergeEngine.Close(); err != nil {
		return err
	}

	if err := e.writeMergeFinishedFile(mergePath, nonMergeFid); err != nil {
		return err
	}

	return e.swapMergeInline(mergePath, nonMergeFid)
}

// rotateMergeFiles seals the active file and starts a new one, then returns
// every file below the new active file's id -- the set Merge rewrites --
// sorted ascending, and the id Merge leaves untouched.
func (e *Engine) rotateMergeFiles() ([]*model.DataFile, uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeFile == nil {
		return nil, 0, nil
	}
	if err := e.activeFile.Sync(); err != nil {
		return nil, 0, err
	}

	nextFid := e.activeFile.Fid + 1
	ioManager, err := e.options.ioManagerCreator(nextFid)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFailedToOpenDataFile, err)
	}

	e.ioMu.Lock()
	e.olderFiles[e.activeFile.Fid] = e.activeFile
	e.activeFile = model.OpenDataFile(nextFid, ioManager)

	files := make([]*model.DataFile, 0, len(e.olderFiles))
	for _, f := range e.olderFiles {
		files = append(files, f)
	}
	e.ioMu.Unlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Fid < files[j].Fid })
	return files, nextFid, nil
}

// rewriteLiveRecords scans df and, for every record the keydir still points
// at exactly this (fid, offset), writes it into mergeEngine under its user
// key prefixed with the non-transactional sequence 0 (merge output is never
// batched) and records its new location in hintFile.
func (e *Engine) rewriteLiveRecords(df *model.DataFile, mergeEngine *Engine, hintFile *model.DataFile) error {
	var offset int64
	for {
		record, size, err := e.decodeRecordAt(df, offset)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}

		userKey, _ := splitSeqPrefix(record.Key)
		current := e.keydirIndex.Get(userKey)
		if current != nil && current.Fid == df.Fid && current.Offset == offset {
			rewritten := &model.Record{
				Type:  model.RecordNormal,
				Key:   withSeqPrefix(userKey, noTransactionSeq),
				Value: record.Value,
			}
			pos, err := mergeEngine.appendRecordWithLock(rewritten)
			if err != nil {
				return err
			}
			if err := e.writeHintRecord(hintFile, userKey, pos); err != nil {
				return err
			}
		}
		offset += size
	}
	return nil
}

func (e *Engine) writeHintRecord(hintFile *model.DataFile, userKey []byte, pos *model.RecordPos) error {
	value := e.options.codec.EncodeRecordPos(pos)
	encoded := e.options.codec.EncodeRecord(&model.Record{Type: model.RecordNormal, Key: userKey, Value: value})
	_, err := hintFile.Write(encoded)
	return err
}

func (e *Engine) openHintFile(mergePath string) (*model.DataFile, error) {
	ioManager, err := fio.NewFileIO(filepath.Join(mergePath, model.HintFileName))
	if err != nil {
		return nil, err
	}
	return model.OpenDataFile(0, ioManager), nil
}

// writeMergeFinishedFile marks mergePath as ready to swap in, recording the
// id of the first file the merge left untouched. Its presence is what tells
// loadMergeFiles (on a later startup) or swapMergeInline (right now) that
// the rewritten files are complete and safe to adopt.
func (e *Engine) writeMergeFinishedFile(mergePath string, nonMergeFid uint32) error {
	ioManager, err := fio.NewFileIO(filepath.Join(mergePath, model.MergeFinishedFileName))
	if err != nil {
		return err
	}
	df := model.OpenDataFile(0, ioManager)
	record := &model.Record{
		Type:  model.RecordNormal,
		Key:   []byte(mergeFinishedKey),
		Value: []byte(strconv.FormatUint(uint64(nonMergeFid), 10)),
	}
	if _, err := df.Write(e.options.codec.EncodeRecord(record)); err != nil {
		_ = df.Close()
		return err
	}
	if err := df.Sync(); err != nil {
		_ = df.Close()
		return err
	}
	return df.Close()
}

// swapMergeInline performs the merge swap immediately, under the write
// mutex, instead of leaving it for the next Open. It closes the merged-away
// file handles, delegates the on-disk swap to swapMergedFilesIntoMainDir
// (shared with recover), reopens the files that replaced them, and
// reconciles the live keydir against the new hint file.
func (e *Engine) swapMergeInline(mergePath string, nonMergeFid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ioMu.Lock()
	for fid, df := range e.olderFiles {
		if fid < nonMergeFid {
			_ = df.Close()
			delete(e.olderFiles, fid)
		}
	}
	e.ioMu.Unlock()

	if err := e.swapMergedFilesIntoMainDir(mergePath); err != nil {
		return err
	}

	entries, err := os.ReadDir(e.options.DirPath)
	if err != nil {
		return err
	}

	e.ioMu.Lock()
	for _, entry := range entries {
		fid, ok := model.ParseDataFileId(entry.Name())
		if !ok || fid >= nonMergeFid {
			continue
		}
		ioManager, err := e.options.ioManagerCreator(fid)
		if err != nil {
			e.ioMu.Unlock()
			return fmt.Errorf("%w: %v", ErrFailedToOpenDataFile, err)
		}
		df := model.OpenDataFile(fid, ioManager)
		size, err := df.Size()
		if err != nil {
			e.ioMu.Unlock()
			return err
		}
		df.WriteOffset = size
		e.olderFiles[fid] = df
	}
	e.ioMu.Unlock()

	return e.reconcileKeydirAfterMerge(nonMergeFid)
}

// reconcileKeydirAfterMerge applies the freshly swapped-in hint file to the
// live keydir. A hint entry is only applied if the key's current position
// still falls below nonMergeFid: that is exactly the case where nothing
// mutated the key while the merge scan was running, so the merge's rewrite
// is still the correct, current location. A key that was deleted or
// overwritten during the merge window now points at or above nonMergeFid
// (or not at all) and must keep that newer position instead.
func (e *Engine) reconcileKeydirAfterMerge(nonMergeFid uint32) error {
	data, err := os.ReadFile(filepath.Join(e.options.DirPath, model.HintFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var offset int64
	for offset < int64(len(data)) {
		record, size, err := e.decodeStoredRecord(data, offset)
		if err != nil {
			return err
		}
		pos, err := e.options.codec.DecodeRecordPos(record.Value)
		if err != nil {
			return err
		}
		if current := e.keydirIndex.Get(record.Key); current != nil && current.Fid < nonMergeFid {
			e.keydirIndex.Put(record.Key, pos)
		}
		offset += size
	}
	return nil
}
