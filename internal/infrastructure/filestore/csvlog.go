package filestore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// csvAppender appends rows to a CSV file, writing header first when the file is new or empty.
type csvAppender struct {
	mu     sync.Mutex
	header []string
}

func (a *csvAppender) append(path string, row []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	needHeader := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		needHeader = true
	case err != nil:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	default:
		needHeader = info.Size() == 0
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	w := csv.NewWriter(f)
	if needHeader {
		_ = w.Write(a.header)
	}
	_ = w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
