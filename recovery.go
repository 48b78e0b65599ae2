package lucaskv

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cq-labs/lucaskv/fio"
	"github.com/cq-labs/lucaskv/model"
)

// wrapScanCorruption maps a codec-level decode failure encountered while
// scanning the data directory to the public ErrCorruptDirectory sentinel
// Open promises (§4.8 step 6); io.EOF (benign trailing truncation) passes
// through untouched.
func wrapScanCorruption(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptDirectory, err)
}

// mergeDirSuffix names the sibling directory a merge stages its rewritten
// files in, e.g. "/data" merges into "/data-merge".
const mergeDirSuffix = "-merge"

func mergeDirPath(dirPath string) string {
	dir, base := filepath.Split(filepath.Clean(dirPath))
	return filepath.Join(dir, base+mergeDirSuffix)
}

// recover brings a freshly locked, empty Engine up to the state recorded on
// disk: it swaps in any merge left staged by a crash between merge-finished
// and the directory swap, opens every data file, and rebuilds the keydir
// from the hint file (if any) plus a scan of whatever the hint didn't cover.
// Must run before the engine accepts any Put/Delete/Get.
func (e *Engine) recover() error {
	if err := e.loadMergeFiles(); err != nil {
		return err
	}

	if err := e.loadDataFiles(); err != nil {
		return err
	}

	nonMergeFid, haveBoundary, err := e.loadMergeBoundary()
	if err != nil {
		return err
	}

	if err := e.loadIndexFromHintFile(); err != nil {
		return err
	}

	startFid := uint32(0)
	if haveBoundary {
		startFid = nonMergeFid
	}
	seq, err := e.loadIndexFromDataFiles(startFid)
	if err != nil {
		return err
	}
	e.txSeq = seq

	if loaded, err := e.loadTxSeq(); err == nil && loaded > e.txSeq {
		e.txSeq = loaded
	}

	if e.options.UseMmapWhenStartup {
		if err := e.demoteActiveFileFromMmap(); err != nil {
			return err
		}
	}

	if err := e.truncateActiveFileTail(); err != nil {
		return err
	}

	return nil
}

// truncateActiveFileTail drops whatever bytes sit past the last complete
// record loadIndexFromDataFiles found in the active file -- the tail of an
// append that never finished before a crash. FileIO is opened O_APPEND, so
// every Write lands at the file's true on-disk end regardless of
// WriteOffset; without this, the next Put would land past the garbage tail
// while its keydir entry would still be built from the pre-crash
// WriteOffset, pointing at the wrong bytes. Must run after the active file
// is back on standard IO (mmap IOManagers don't support Truncate).
func (e *Engine) truncateActiveFileTail() error {
	if e.activeFile == nil {
		return nil
	}
	size, err := e.activeFile.Size()
	if err != nil {
		return err
	}
	if size <= e.activeFile.WriteOffset {
		return nil
	}
	return e.activeFile.IoManager.Truncate(e.activeFile.WriteOffset)
}

// loadMergeFiles swaps a completed-but-unswapped merge into the main
// directory, or discards an incomplete one. Grounded on
// original_source/src/merge/mod.rs's load_merge_files: a merge directory
// without a merge-finished marker means the process died mid-merge, before
// the rewritten files were fully synced, and is simply garbage.
func (e *Engine) loadMergeFiles() error {
	mergePath := mergeDirPath(e.options.DirPath)
	info, err := os.Stat(mergePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	finishedPath := filepath.Join(mergePath, model.MergeFinishedFileName)
	if _, err := os.Stat(finishedPath); err != nil {
		if os.IsNotExist(err) {
			return os.RemoveAll(mergePath)
		}
		return err
	}

	return e.swapMergedFilesIntoMainDir(mergePath)
}

// readMergeFinishedBoundary reads the non-merge file id out of a
// merge-finished marker file -- the fid at or above which files were left
// untouched by the merge that wrote it.
func (e *Engine) readMergeFinishedBoundary(markerDir string) (uint32, error) {
	data, err := os.ReadFile(filepath.Join(markerDir, model.MergeFinishedFileName))
	if err != nil {
		return 0, err
	}
	record, _, err := e.decodeStoredRecord(data, 0)
	if err != nil {
		return 0, wrapScanCorruption(err)
	}
	n, err := strconv.ParseUint(string(record.Value), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// swapMergedFilesIntoMainDir performs only the disk-level half of a merge
// swap: it never touches the keydir. Called both from recover (before the
// keydir exists) and, inline, from Merge (after the keydir already exists
// and needs reconciling separately -- see merge.go).
func (e *Engine) swapMergedFilesIntoMainDir(mergePath string) error {
	nonMergeFid, err := e.readMergeFinishedBoundary(mergePath)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(mergePath)
	if err != nil {
		return err
	}

	for fid := uint32(0); fid < nonMergeFid; fid++ {
		old := model.DataFileName(e.options.DirPath, fid)
		if _, err := os.Stat(old); err == nil {
			if err := os.Remove(old); err != nil {
				return err
			}
		}
	}

	for _, entry := range entries {
		src := filepath.Join(mergePath, entry.Name())
		dst := filepath.Join(e.options.DirPath, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}

	return os.RemoveAll(mergePath)
}

// loadMergeBoundary reads the non-merge file id left behind in the main
// directory by a past merge's swap (the merge-finished file itself is one
// of the entries a swap renames in, so it persists there for every startup
// after the one that ran the merge, not just the first).
func (e *Engine) loadMergeBoundary() (uint32, bool, error) {
	path := filepath.Join(e.options.DirPath, model.MergeFinishedFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	fid, err := e.readMergeFinishedBoundary(e.options.DirPath)
	if err != nil {
		return 0, false, err
	}
	return fid, true, nil
}

// loadDataFiles enumerates this directory's *.data files, opens each with
// the configured IOManager (memory-mapped at startup if requested, to speed
// up the recovery scan), and installs the highest-numbered one as active.
func (e *Engine) loadDataFiles() error {
	entries, err := os.ReadDir(e.options.DirPath)
	if err != nil {
		return err
	}

	var fids []uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), model.DataFileSuffix) {
			continue
		}
		fid, ok := model.ParseDataFileId(entry.Name())
		if !ok {
			return ErrCorruptDirectory
		}
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	if len(fids) == 0 {
		return nil
	}

	for i, fid := range fids {
		ioManager, err := e.openRecoveryIOManager(fid)
		if err != nil {
			return err
		}
		df := model.OpenDataFile(fid, ioManager)
		size, err := df.Size()
		if err != nil {
			return err
		}
		df.WriteOffset = size

		if i == len(fids)-1 {
			e.activeFile = df
		} else {
			e.olderFiles[fid] = df
		}
	}
	return nil
}

// openRecoveryIOManager opens fid's file memory-mapped when the engine is
// configured to, falling back to the standard IOManager otherwise. The
// active file is demoted back to standard IO once recovery finishes (mmap
// cannot service writes).
func (e *Engine) openRecoveryIOManager(fid uint32) (fio.IOManager, error) {
	if !e.options.UseMmapWhenStartup {
		return e.options.ioManagerCreator(fid)
	}
	return fio.NewMemoryMappedIO(model.DataFileName(e.options.DirPath, fid))
}

// demoteActiveFileFromMmap swaps the active file's IOManager back to
// standard file IO once the recovery scan is done, so it can accept writes.
func (e *Engine) demoteActiveFileFromMmap() error {
	if e.activeFile == nil {
		return nil
	}
	return e.activeFile.SwitchToStandardIO(e.options.DirPath)
}

// loadIndexFromHintFile replays the hint file a past merge left behind, if
// any, installing each entry directly -- hint records carry no transaction
// sequence and are never tombstones, since a merge only ever rewrites live
// data (see merge.go).
func (e *Engine) loadIndexFromHintFile() error {
	path := filepath.Join(e.options.DirPath, model.HintFileName)
	data, err := os.ReadFile(path)
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
			return wrapScanCorruption(err)
		}
		pos, err := e.options.codec.DecodeRecordPos(record.Value)
		if err != nil {
			return wrapScanCorruption(err)
		}
		e.keydirIndex.Put(record.Key, pos)
		offset += size
	}
	return nil
}

// loadIndexFromDataFiles sequentially scans every data file with fid >=
// startFid and rebuilds the keydir from what it finds, healing a trailing
// partial record (a crash mid-append) by simply stopping there. Batched
// writes are buffered per sequence number until their TxnFinished marker
// arrives, even when that marker lands in a later file; a batch with no
// terminator by the end of the whole scan is discarded, exactly as the
// originating commit never completed.
//
// startFid is 0 on first ever open, or the merge boundary past startups
// left in the merge-finished marker -- everything below it is already
// covered by the hint file.
func (e *Engine) loadIndexFromDataFiles(startFid uint32) (uint64, error) {
	var maxSeq uint64

	fids := e.sortedFids()
	if len(fids) == 0 {
		return 0, nil
	}

	type pending struct {
		record *model.Record
		pos    *model.RecordPos
	}
	batches := make(map[uint64][]pending)

	for _, fid := range fids {
		if fid < startFid {
			continue
		}
		df, err := e.dataFileForRead(fid)
		if err != nil {
			return 0, err
		}

		var offset int64
		for {
			record, size, err := e.decodeRecordAt(df, offset)
			if err != nil {
				if err == io.EOF {
					break
				}
				return 0, wrapScanCorruption(err)
			}

			userKey, seq := splitSeqPrefix(record.Key)
			pos := &model.RecordPos{Fid: fid, Offset: offset, Size: uint32(size)}

			if seq == noTransactionSeq {
				e.applyRecoveredRecord(userKey, record, pos)
			} else if record.Type == model.RecordTxnFinished {
				for _, p := range batches[seq] {
					batchKey, _ := splitSeqPrefix(p.record.Key)
					e.applyRecoveredRecord(batchKey, p.record, p.pos)
				}
				delete(batches, seq)
			} else {
				batches[seq] = append(batches[seq], pending{record: record, pos: pos})
			}

			if seq > maxSeq {
				maxSeq = seq
			}
			offset += size
		}

		if fid == e.activeFile.Fid {
			e.activeFile.WriteOffset = offset
		}
	}

	return maxSeq, nil
}

func (e *Engine) applyRecoveredRecord(userKey []byte, record *model.Record, pos *model.RecordPos) {
	if record.Type == model.RecordTombstone {
		e.keydirIndex.Delete(userKey)
		return
	}
	e.keydirIndex.Put(userKey, pos)
}

func (e *Engine) sortedFids() []uint32 {
	var fids []uint32
	for fid := range e.olderFiles {
		fids = append(fids, fid)
	}
	if e.activeFile != nil {
		fids = append(fids, e.activeFile.Fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}

// decodeStoredRecord decodes one record out of an in-memory buffer (a hint
// or merge-finished file read whole into memory), as opposed to
// decodeRecordAt which reads through a DataFile's IOManager.
func (e *Engine) decodeStoredRecord(data []byte, offset int64) (*model.Record, int64, error) {
	headerLimit := offset + model.MaxHeaderSize
	if headerLimit > int64(len(data)) {
		headerLimit = int64(len(data))
	}
	header, err := e.options.codec.DecodeHeader(data[offset:headerLimit])
	if err != nil {
		return nil, 0, err
	}

	total := header.HeaderSize + int64(header.KeySize) + int64(header.ValueSize) + model.CrcSize
	if offset+total > int64(len(data)) {
		return nil, 0, io.EOF
	}
	record, err := e.options.codec.DecodePayload(data[offset:offset+total], header)
	if err != nil {
		return nil, 0, err
	}
	return record, total, nil
}

// loadTxSeq reads the transaction sequence persisted by a clean shutdown.
// Its absence (a fresh directory, or a crash before it could be written) is
// not an error -- loadIndexFromDataFiles's own scan is always at least as
// current.
func (e *Engine) loadTxSeq() (uint64, error) {
	path := filepath.Join(e.options.DirPath, model.SeqNoFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// persistTxSeq writes the current transaction sequence so the next Open can
// skip straight past it without rescanning just to recover the counter.
func (e *Engine) persistTxSeq() error {
	path := filepath.Join(e.options.DirPath, model.SeqNoFileName)
	seq := atomic.LoadUint64(&e.txSeq)
	return os.WriteFile(path, []byte(strconv.FormatUint(seq, 10)), 0644)
}
