package emitter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultCSVLogName is the file name used when only a directory is configured.
const DefaultCSVLogName = "bpm_log.csv"

// CSVLog appends every reading to a CSV file as timestamp,bpm rows. Each row
// goes to the file in its own write.
type CSVLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenCSVLog opens path for appending, creating it if needed. A path naming
// an existing directory gets DefaultCSVLogName inside it.
func OpenCSVLog(path string) (*CSVLog, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, DefaultCSVLogName)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv log %q: %w", path, err)
	}
	return &CSVLog{path: path, f: f}, nil
}

// Path returns the file the log writes to.
func (l *CSVLog) Path() string {
	return l.path
}

// Write appends one row. A failed row does not affect later ones.
func (l *CSVLog) Write(r Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("csv log %q is closed", l.path)
	}
	row, err := encodeCSV(FormatTimestamp(r.Timestamp), r.BPM)
	if err != nil {
		return err
	}
	if _, err := l.f.Write(row); err != nil {
		return fmt.Errorf("failed to write csv log: %w", err)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
