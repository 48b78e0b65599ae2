package lucaskv

import "fmt"

var (
	ErrKeyIsEmpty = addPrefix("the key is empty")
	ErrBigValue   = addPrefix("value is too big for a single data file")
	ErrKeyNotFound = addPrefix("key not found")

	ErrDataFileNotFound     = addPrefix("data file not found")
	ErrNoIOManager          = addPrefix("no io manager")
	ErrDirectoryInUse       = addPrefix("directory is already in use by another process")
	ErrDirectoryPathInvalid = addPrefix("directory path is invalid")
	ErrInvalidDataFileSize  = addPrefix("data file size must be greater than zero")
	ErrFailedToCreateDir    = addPrefix("failed to create database directory")
	ErrFailedToOpenDataFile = addPrefix("failed to open data file")
	ErrCorruptDirectory     = addPrefix("data directory may be corrupted")
	ErrInvalidCRC           = addPrefix("invalid record crc")

	ErrBatchTooLarge = addPrefix("exceeds the configured max batch size")
	ErrEmptyBatch    = addPrefix("write batch has no pending writes")

	ErrMergeInProgress  = addPrefix("merge already in progress")
	ErrEngineClosed     = addPrefix("engine is closed")
	ErrInvalidMergeRatio = addPrefix("data file merge ratio must be within [0, 1]")

	ErrStaleIterator = addPrefix("iterator's record was removed by a merge")
)

func addPrefix(errStr string) error {
	return fmt.Errorf("lucaskv: %s", errStr)
}
