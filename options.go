package lucaskv

import (
	"github.com/cq-labs/lucaskv/codec"
	"github.com/cq-labs/lucaskv/fio"
)

// IndexType selects a Keydir backend. Both present identical externally
// observable semantics (§4.3); choose BTree for a guarded balanced tree or
// SkipList for the concurrent ordered-index alternative.
type IndexType int

const (
	BTree IndexType = iota
	SkipList
)

const (
	defaultDataFileSize      int64 = 256 * 1024 * 1024
	defaultDataFileMergeRatio       = 0
)

// Options configures Open. DirPath is required; every other field has a
// usable default.
type Options struct {
	DirPath      string
	DataFileSize int64

	SyncWrites   bool
	BytesPerSync uint64

	IndexType IndexType

	UseMmapWhenStartup bool

	// DataFileMergeRatio is the reclaimable_bytes/total_bytes threshold past
	// which Open's caller should consider an automatic Merge; 0 disables the
	// check. The engine itself never merges on its own initiative -- this
	// only feeds Engine.ShouldMerge, callers decide when to act on it.
	DataFileMergeRatio float64

	ioManagerCreator func(fid uint32) (fio.IOManager, error)
	codec            codec.Codec
}

type Option func(*Options)

func WithDirPath(dirPath string) Option {
	return func(o *Options) { o.DirPath = dirPath }
}

func WithDataFileSize(size int64) Option {
	return func(o *Options) { o.DataFileSize = size }
}

func WithSyncWrites(sync bool) Option {
	return func(o *Options) { o.SyncWrites = sync }
}

func WithBytesPerSync(n uint64) Option {
	return func(o *Options) { o.BytesPerSync = n }
}

func WithIndexType(t IndexType) Option {
	return func(o *Options) { o.IndexType = t }
}

func WithUseMmapWhenStartup(use bool) Option {
	return func(o *Options) { o.UseMmapWhenStartup = use }
}

func WithDataFileMergeRatio(ratio float64) Option {
	return func(o *Options) { o.DataFileMergeRatio = ratio }
}

// WithIOManagerCreator overrides how a data file's IOManager is constructed,
// e.g. to point at a different filesystem or inject a fake for tests. The
// default opens a Standard fio.FileIO rooted at o.DirPath.
func WithIOManagerCreator(fn func(fid uint32) (fio.IOManager, error)) Option {
	return func(o *Options) { o.ioManagerCreator = fn }
}

func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.codec = c }
}

func defaultOptions() *Options {
	return &Options{
		DataFileSize:        defaultDataFileSize,
		SyncWrites:          false,
		BytesPerSync:        0,
		IndexType:           BTree,
		UseMmapWhenStartup:  true,
		DataFileMergeRatio:  defaultDataFileMergeRatio,
		codec:               codec.NewCodecImpl(),
	}
}

func (o *Options) validate() error {
	if o.DirPath == "" {
		return ErrDirectoryPathInvalid
	}
	if o.DataFileSize <= 0 {
		return ErrInvalidDataFileSize
	}
	if o.DataFileMergeRatio < 0 || o.DataFileMergeRatio > 1 {
		return ErrInvalidMergeRatio
	}
	return nil
}

// writeBatchOptions configures a WriteBatch.
type writeBatchOptions struct {
	maxBatchNum int
	syncOnCommit bool
}

var defaultWriteBatchOptions = &writeBatchOptions{
	maxBatchNum:  10000,
	syncOnCommit: false,
}

type WriteBatchOption func(*writeBatchOptions)

func WithMaxBatchNum(n int) WriteBatchOption {
	return func(o *writeBatchOptions) { o.maxBatchNum = n }
}

func WithSyncOnCommit(sync bool) WriteBatchOption {
	return func(o *writeBatchOptions) { o.syncOnCommit = sync }
}

// IteratorOptions configures NewIterator.
type IteratorOptions struct {
	Prefix  []byte
	Reverse bool
}

var DefaultIteratorOptions = IteratorOptions{}
