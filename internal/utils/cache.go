package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// LIDCache maps WhatsApp LID users to phone users. An empty Path keeps the
// mapping in memory only.
type LIDCache struct {
	mu      sync.RWMutex
	Path    string
	mapping map[string]string
}

func NewLIDCache(path string) *LIDCache {
	return &LIDCache{Path: path, mapping: make(map[string]string)}
}

// Load reads the cache from disk. A missing file is an empty cache.
func (c *LIDCache) Load() error {
	if c.Path == "" {
		return nil
	}
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Unmarshal(data, &c.mapping)
}

// Get retrieves a phone user for a LID user
func (c *LIDCache) Get(lidUser string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	phone, ok := c.mapping[lidUser]
	return phone, ok
}

// Set stores a phone user for a LID user and writes the file when the
// mapping changed.
func (c *LIDCache) Set(lidUser, phoneUser string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mapping[lidUser] == phoneUser {
		return nil
	}
	c.mapping[lidUser] = phoneUser
	if c.Path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.mapping, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}

func (c *LIDCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mapping)
}
