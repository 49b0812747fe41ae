// ABOUTME: File-storage collaborator for uploaded images and stickers
// ABOUTME: Content-addressed naming plus a disk-backed Storage implementation

package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Storage is the file-storage contract consumed by the upload pipeline.
// Content-addressed naming is the caller's responsibility.
type Storage interface {
	Exists(name string) bool
	Write(name string, data []byte) error
	URL(name string) string
}

// HashName derives the content-addressed file name for the given bytes:
// the hex sha256 digest plus the extension. Identical bytes always map to
// the same name, which is what makes redundant uploads idempotent.
func HashName(data []byte, ext string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ext
}

// DiskStorage stores files in a flat directory and resolves URLs against a
// configured base.
type DiskStorage struct {
	dir     string
	baseURL string
}

// NewDiskStorage creates the storage directory if needed and returns a
// DiskStorage rooted there.
func NewDiskStorage(dir, baseURL string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DiskStorage{dir: dir, baseURL: baseURL}, nil
}

// Exists reports whether a file with the given name is already stored.
func (d *DiskStorage) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(d.dir, name))
	return err == nil
}

// Write stores the bytes under the given name.
func (d *DiskStorage) Write(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// URL resolves a stored file name against the configured base URL.
func (d *DiskStorage) URL(name string) string {
	return d.baseURL + name
}

// MemStorage is an in-memory Storage for tests. It counts writes so tests
// can assert deduplication behavior.
type MemStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	writes  int
	baseURL string
}

// NewMemStorage creates an empty in-memory storage.
func NewMemStorage(baseURL string) *MemStorage {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &MemStorage{files: make(map[string][]byte), baseURL: baseURL}
}

// Exists reports whether a file with the given name was written.
func (m *MemStorage) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

// Write stores the bytes and increments the write counter.
func (m *MemStorage) Write(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// URL resolves a name against the base URL.
func (m *MemStorage) URL(name string) string {
	return m.baseURL + name
}

// Writes returns the number of Write calls made.
func (m *MemStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get returns the stored bytes for a name, or nil.
func (m *MemStorage) Get(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[name]
}
