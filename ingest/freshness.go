package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FreshnessFile remembers when each symbol and period was last fetched so a
// restart does not refetch data that is already current. Keys are
// "SYMBOL:PERIOD".
type FreshnessFile struct {
	path string

	mu      sync.Mutex
	entries map[string]time.Time
}

func freshnessKey(symbol, period string) string { return symbol + ":" + period }

// LoadFreshness reads path. A missing file yields an empty map; an unreadable
// one yields an empty map and the error.
func LoadFreshness(path string) (*FreshnessFile, error) {
	f := &FreshnessFile{path: path, entries: make(map[string]time.Time)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read freshness file: %w", err)
	}
	if err := json.Unmarshal(raw, &f.entries); err != nil {
		f.entries = make(map[string]time.Time)
		return f, fmt.Errorf("decode freshness file: %w", err)
	}
	return f, nil
}

func (f *FreshnessFile) Mark(symbol, period string, at time.Time) {
	f.mu.Lock()
	f.entries[freshnessKey(symbol, period)] = at.UTC().Truncate(time.Second)
	f.mu.Unlock()
}

func (f *FreshnessFile) Last(symbol, period string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.entries[freshnessKey(symbol, period)]
	return t, ok
}

// FreshSince reports whether symbol/period was fetched at or after since.
func (f *FreshnessFile) FreshSince(symbol, period string, since time.Time) bool {
	t, ok := f.Last(symbol, period)
	return ok && !t.Before(since)
}

// Save writes the map atomically through a temp file and rename.
func (f *FreshnessFile) Save() error {
	f.mu.Lock()
	raw, err := json.MarshalIndent(f.entries, "", "  ")
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode freshness file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create freshness dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write freshness file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace freshness file: %w", err)
	}
	return nil
}
