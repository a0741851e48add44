package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// rotatingWriter appends to a single log file and rotates it once it
// would exceed maxBytes. Rotated files are renamed path.1 .. path.N,
// newest first; the oldest is dropped.
type rotatingWriter struct {
	mu       sync.Mutex
	filePath string
	maxBytes int64
	backups  int
	file     *os.File
	written  int64
}

var _ io.WriteCloser = (*rotatingWriter)(nil)

func newRotatingWriter(path string, maxBytes int64, backups int) (*rotatingWriter, error) {
	w := &rotatingWriter{
		filePath: path,
		maxBytes: maxBytes,
		backups:  backups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) open() error {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.written = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	if w.backups < 1 {
		_ = os.Remove(w.filePath)
		return w.open()
	}

	_ = os.Remove(w.backupPath(w.backups))
	for i := w.backups - 1; i >= 1; i-- {
		src := w.backupPath(i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, w.backupPath(i+1)); err != nil {
				return err
			}
		}
	}
	if err := os.Rename(w.filePath, w.backupPath(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return w.open()
}

func (w *rotatingWriter) backupPath(i int) string {
	return fmt.Sprintf("%s.%d", w.filePath, i)
}
