package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker hands out attachment file names for one run and records what was
// written. Names are claimed case-insensitively so the output folder stays
// collision free on case-insensitive filesystems.
type Tracker interface {
	Claim(name string) string
	Record(entry Entry) error
	Snapshot() Snapshot
	Close() error
}

// Entry describes one attachment written to disk.
type Entry struct {
	SHA256 string `json:"sha256"`
	Path   string `json:"path"`
	Source string `json:"source"`
	Size   int64  `json:"size"`
}

type Snapshot struct {
	Claimed  int
	Recorded int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	claimed  map[string]struct{}
	recorded int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{claimed: make(map[string]struct{})}
}

// Claim reserves name, or the first free "<base>_N<ext>" variant of it.
func (m *MemoryTracker) Claim(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tryClaim(name) {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if m.tryClaim(candidate) {
			return candidate
		}
	}
}

func (m *MemoryTracker) tryClaim(name string) bool {
	key := strings.ToLower(name)
	if _, taken := m.claimed[key]; taken {
		return false
	}
	m.claimed[key] = struct{}{}
	return true
}

func (m *MemoryTracker) Record(Entry) error {
	m.mu.Lock()
	m.recorded++
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Claimed: len(m.claimed), Recorded: m.recorded}
}

func (m *MemoryTracker) Close() error {
	return nil
}

// FileTracker additionally writes every recorded entry as one JSON line. The
// index is rewritten from scratch on every run.
type FileTracker struct {
	*MemoryTracker
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileTracker(path string) (*FileTracker, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("attachment index path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open attachment index: %w", err)
	}

	return &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          path,
		file:          file,
		writer:        bufio.NewWriterSize(file, 64*1024), // 64KB buffer
	}, nil
}

// Path returns the index file location.
func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) Record(entry Entry) error {
	if err := f.MemoryTracker.Record(entry); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode index entry: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush attachment index: %w", err)
	}
	return nil
}

// Close flushes and closes the index file.
func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.file == nil {
		return nil
	}

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush attachment index: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close attachment index: %w", err)
	}
	f.file = nil

	return firstErr
}
