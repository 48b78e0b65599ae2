package lucaskv

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cq-labs/lucaskv/fio"
)

// Backup copies every data file, the hint file, and the seq-no file into
// dest, which is created if necessary. The directory lock file is skipped:
// a backup is meant to be opened as an independent copy later, not to
// contend for the live engine's lock. Backup takes the write mutex for its
// duration, so it sees a consistent snapshot, but does not stop concurrent
// reads.
func (e *Engine) Backup(dest string) error {
	if e.closed {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeFile != nil {
		if err := e.activeFile.Sync(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	entries, err := os.ReadDir(e.options.DirPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == fio.LockFileName {
			continue
		}
		if err := copyFile(filepath.Join(e.options.DirPath, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
