// Package parquet reads and writes bar files in Parquet format, one file per
// symbol, and serves them as a page source for the chart.
package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"

	"klinecore/internal/model"
)

// Extension is the file extension of bar files.
const Extension = "parquet"

// ReadFile loads every bar of a file, sorted by timestamp.
func ReadFile(path string) ([]model.Bar, error) {
	bars, err := parquet.ReadFile[model.Bar](path)
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	return bars, nil
}

// WriteFile writes bars to path, replacing any existing file.
func WriteFile(path string, bars []model.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("parquet mkdir: %w", err)
	}
	if err := parquet.WriteFile(path, bars); err != nil {
		return fmt.Errorf("parquet write %s: %w", path, err)
	}
	return nil
}

// Source serves pages from <dir>/<symbol>.parquet. A file is read once and
// kept in memory.
type Source struct {
	dir string

	mu    sync.Mutex
	cache map[string][]model.Bar
}

// NewSource creates a Source over dir.
func NewSource(dir string) *Source {
	return &Source{dir: dir, cache: make(map[string][]model.Bar)}
}

// Path returns the file of symbol.
func (s *Source) Path(symbol string) string {
	return filepath.Join(s.dir, symbol+"."+Extension)
}

func (s *Source) load(symbol string) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bars, ok := s.cache[symbol]; ok {
		return bars, nil
	}
	bars, err := ReadFile(s.Path(symbol))
	if err != nil {
		return nil, err
	}
	s.cache[symbol] = bars
	return bars, nil
}

// Latest returns the newest limit bars and whether older ones exist.
func (s *Source) Latest(ctx context.Context, symbol string, limit int) ([]model.Bar, bool, error) {
	bars, err := s.load(symbol)
	if err != nil {
		return nil, false, err
	}
	return tail(bars, len(bars), limit)
}

// Before returns up to limit bars strictly older than ts.
func (s *Source) Before(ctx context.Context, symbol string, ts int64, limit int) ([]model.Bar, bool, error) {
	bars, err := s.load(symbol)
	if err != nil {
		return nil, false, err
	}
	end := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp >= ts })
	return tail(bars, end, limit)
}

// After returns up to limit bars strictly newer than ts.
func (s *Source) After(ctx context.Context, symbol string, ts int64, limit int) ([]model.Bar, bool, error) {
	bars, err := s.load(symbol)
	if err != nil {
		return nil, false, err
	}
	start := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp > ts })
	end := min(start+limit, len(bars))
	return clone(bars[start:end]), end < len(bars), nil
}

// Close drops the cache.
func (s *Source) Close() error {
	s.mu.Lock()
	s.cache = make(map[string][]model.Bar)
	s.mu.Unlock()
	return nil
}

// tail returns up to limit bars ending before index end.
func tail(bars []model.Bar, end, limit int) ([]model.Bar, bool, error) {
	start := max(end-limit, 0)
	return clone(bars[start:end]), start > 0, nil
}

func clone(bars []model.Bar) []model.Bar {
	return append([]model.Bar(nil), bars...)
}
