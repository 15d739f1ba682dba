package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// CSV is a file ledger. Concurrent appends are serialized.
type CSV struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSV opens path for appending, writing the header row when the file is
// new or empty.
func OpenCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ledger: stat %s: %w", path, err)
	}
	l := &CSV{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := l.write(Header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *CSV) Append(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(rec.row())
}

func (l *CSV) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("ledger: write: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

func (l *CSV) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.f.Close()
}
