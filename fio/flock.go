package fio

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

type FileLocker interface {
	TryLock() (bool, error)
	Unlock() error
}

// LockFileName is the fixed name of the directory-level lock file NewFlock
// creates; callers that walk a data directory (e.g. Backup) need it to skip
// that file.
const LockFileName = "flock"

func NewFlock(dirPath string) *flock.Flock {
	return flock.New(filepath.Join(dirPath, LockFileName))
}
