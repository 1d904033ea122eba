package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an append-only log file that is renamed to path.1 once it
// would exceed maxSize bytes. Older backups shift up to path.<maxBackups>;
// anything beyond that is removed.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int

	f    *os.File
	size int64
}

// OpenRotatingFile opens or creates path for appending.
func OpenRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("rotating file: max size must be positive, got %d", maxSize)
	}
	rf := &RotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := rf.openCurrent(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) openCurrent() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0o750); err != nil {
		return fmt.Errorf("rotating file: create directory: %w", err)
	}
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("rotating file: open: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("rotating file: stat: %w", err)
	}
	rf.f, rf.size = f, st.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past its limit.
// A single write larger than the limit still lands in one file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, fs.ErrClosed
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", rf.path, i)
}

// rotate must be called with mu held.
func (rf *RotatingFile) rotate() error {
	if err := rf.f.Close(); err != nil {
		return fmt.Errorf("rotating file: close: %w", err)
	}
	rf.f = nil

	if rf.maxBackups <= 0 {
		if err := os.Remove(rf.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rotating file: remove: %w", err)
		}
		return rf.openCurrent()
	}

	if err := os.Remove(rf.backup(rf.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rotating file: drop oldest: %w", err)
	}
	for i := rf.maxBackups - 1; i >= 1; i-- {
		if err := os.Rename(rf.backup(i), rf.backup(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rotating file: shift backup: %w", err)
		}
	}
	if err := os.Rename(rf.path, rf.backup(1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rotating file: rotate: %w", err)
	}
	return rf.openCurrent()
}

// Close closes the current file. Further writes fail.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}
