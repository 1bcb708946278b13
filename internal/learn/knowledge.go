package learn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Item is one learned line in the knowledge file.
type Item struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Topic  string `json:"topic"`
}

// KnowledgeFile is the JSON array of learned lines kept next to the
// database. Text is the deduplication key.
type KnowledgeFile struct {
	path string
	mu   sync.Mutex
}

// NewKnowledgeFile returns a handle for path. The file is created on first Load.
func NewKnowledgeFile(path string) *KnowledgeFile {
	return &KnowledgeFile{path: path}
}

// Path returns the file location.
func (k *KnowledgeFile) Path() string {
	return k.path
}

// Load reads every item. A missing file is created holding an empty array.
func (k *KnowledgeFile) Load() ([]Item, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, k.writeLocked(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse knowledge file %s: %w", k.path, err)
	}
	return items, nil
}

// Save replaces the file contents with items.
func (k *KnowledgeFile) Save(items []Item) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.writeLocked(items)
}

// writeLocked writes to a temp file in the same directory and renames it
// over the target.
func (k *KnowledgeFile) writeLocked(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encode knowledge: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(k.path), ".knowledge-*.json")
	if err != nil {
		return fmt.Errorf("create temp knowledge file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write knowledge file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close knowledge file: %w", err)
	}
	if err := os.Rename(tmpName, k.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace knowledge file: %w", err)
	}
	return nil
}

// knownTexts returns the set of trimmed texts in items.
func knownTexts(items []Item) map[string]struct{} {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it.Text); t != "" {
			known[t] = struct{}{}
		}
	}
	return known
}
