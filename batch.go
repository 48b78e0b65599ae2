package lucaskv

import (
	"sync"

	"github.com/cq-labs/lucaskv/model"
)

// WriteBatch groups Puts and Deletes into one atomic unit: Commit makes
// every pending write visible together, or none of them, even across a
// crash (§4.7). Its methods are serialized by an internal mutex, so it may
// be shared between goroutines.
type WriteBatch struct {
	mu sync.Mutex

	engine        *Engine
	options       *writeBatchOptions
	pendingWrites map[string]*model.Record
}

// NewWriteBatch starts a new batch against e.
func (e *Engine) NewWriteBatch(opts ...WriteBatchOption) *WriteBatch {
	options := &writeBatchOptions{
		maxBatchNum:  defaultWriteBatchOptions.maxBatchNum,
		syncOnCommit: defaultWriteBatchOptions.syncOnCommit,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &WriteBatch{
		engine:        e,
		options:       options,
		pendingWrites: make(map[string]*model.Record),
	}
}

// Put stages a Normal write; it is not visible to Get until Commit.
func (wb *WriteBatch) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()

	if _, exists := wb.pendingWrites[string(key)]; !exists && len(wb.pendingWrites) >= wb.options.maxBatchNum {
		return ErrBatchTooLarge
	}

	wb.pendingWrites[string(key)] = &model.Record{
		Type:  model.RecordNormal,
		Key:   key,
		Value: value,
	}
	return nil
}

// Delete stages a tombstone. If key is absent from the engine's keydir, it
// drops any write already staged for key in this batch and stages nothing
// further -- deleting something that was never committed commits no record
// at all.
func (wb *WriteBatch) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.engine.keydirIndex.Get(key) == nil {
		if _, staged := wb.pendingWrites[string(key)]; staged {
			delete(wb.pendingWrites, string(key))
		}
		return nil
	}

	if _, exists := wb.pendingWrites[string(key)]; !exists && len(wb.pendingWrites) >= wb.options.maxBatchNum {
		return ErrBatchTooLarge
	}

	wb.pendingWrites[string(key)] = &model.Record{
		Type: model.RecordTombstone,
		Key:  key,
	}
	return nil
}

// Commit appends every pending write under a single transaction sequence,
// followed by a TxnFinished marker, then updates the keydir. A failure
// before the marker lands leaves the appended records on disk but
// unreferenced by any key -- recovery discards them (§4.8) and Commit
// returns the error without mutating the keydir.
func (wb *WriteBatch) Commit() error {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if len(wb.pendingWrites) == 0 {
		return ErrEmptyBatch
	}
	if len(wb.pendingWrites) > wb.options.maxBatchNum {
		return ErrBatchTooLarge
	}

	e := wb.engine
	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	seq := e.nextTxSeq()

	e.mu.Lock()
	positions := make(map[string]*model.RecordPos, len(wb.pendingWrites))
	for key, record := range wb.pendingWrites {
		pos, err := e.appendRecord(&model.Record{
			Type:  record.Type,
			Key:   withSeqPrefix(record.Key, seq),
			Value: record.Value,
		})
		if err != nil {
			e.mu.Unlock()
			return err
		}
		positions[key] = pos
	}

	finishRecord := &model.Record{
		Type: model.RecordTxnFinished,
		Key:  withSeqPrefix(txnFinishedKey, seq),
	}
	if _, err := e.appendRecord(finishRecord); err != nil {
		e.mu.Unlock()
		return err
	}

	if wb.options.syncOnCommit && e.activeFile != nil {
		if err := e.activeFile.Sync(); err != nil {
			e.mu.Unlock()
			return err
		}
	}

	for key, record := range wb.pendingWrites {
		if record.Type == model.RecordTombstone {
			e.keydirIndex.Delete(record.Key)
		} else {
			e.keydirIndex.Put(record.Key, positions[key])
		}
	}
	e.mu.Unlock()

	wb.pendingWrites = make(map[string]*model.Record)
	return nil
}
