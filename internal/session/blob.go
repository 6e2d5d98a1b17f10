package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BlobFile persists the serialized session credentials on disk.
type BlobFile struct {
	mu   sync.Mutex
	Path string
}

type blobDocument struct {
	Session []byte    `json:"session"`
	SavedAt time.Time `json:"savedAt"`
}

func NewBlobFile(path string) *BlobFile {
	return &BlobFile{Path: path}
}

// Load returns nil, nil when nothing was saved yet.
func (f *BlobFile) Load() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var doc blobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Session, nil
}

func (f *BlobFile) Save(blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(blobDocument{Session: blob, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// Clear removes the file. Missing files are not an error.
func (f *BlobFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
