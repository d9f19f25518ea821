package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// RotatingFile is an io.WriteCloser that rotates by size: once a write
// would push the file past its limit, path becomes path.1, path.1 becomes
// path.2, and so on, keeping at most maxBackups old files. A single write
// is never split across files.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int
	size       int64
	file       *os.File
}

var _ io.WriteCloser = (*RotatingFile)(nil)

// OpenRotatingFile opens path for appending, creating it and its parent
// directory if needed. maxSizeMB is clamped to at least 1. maxBackups of 0
// truncates on rotation instead of keeping backups.
func OpenRotatingFile(path string, maxSizeMB, maxBackups int) (*RotatingFile, error) {
	return openRotating(path, int64(max(maxSizeMB, 1))<<20, max(maxBackups, 0))
}

func openRotating(path string, limit int64, maxBackups int) (*RotatingFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("logging: mkdir %s: %w", dir, err)
		}
	}
	w := &RotatingFile{path: path, limit: limit, maxBackups: maxBackups}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFile) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat %s: %w", w.path, err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

// Write appends p, rotating first if p would not fit.
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("logging: rotate: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file. Further writes fail with os.ErrClosed.
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with w.mu held.
func (w *RotatingFile) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	backups := w.backups()
	slices.Reverse(backups)
	for _, n := range backups {
		if n >= w.maxBackups {
			_ = os.Remove(w.backup(n))
		} else {
			_ = os.Rename(w.backup(n), w.backup(n+1))
		}
	}
	if w.maxBackups > 0 {
		_ = os.Rename(w.path, w.backup(1))
	} else {
		_ = os.Remove(w.path)
	}
	return w.open()
}

func (w *RotatingFile) backup(n int) string {
	return w.path + "." + strconv.Itoa(n)
}

// backups lists the existing backup numbers, ascending.
func (w *RotatingFile) backups() []int {
	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(w.path) + "."
	var nums []int
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= 1 {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	return nums
}
