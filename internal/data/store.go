// Package data provides market data storage and loading.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrSymbolNotFound is returned when no data file exists for a symbol
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrUnusableData is returned by a strict store for series failing quality checks
	ErrUnusableData = errors.New("market data failed quality checks")
)

const metadataFile = "metadata.json"

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Store provides access to daily closes kept as one JSON file per symbol
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	strict    bool
	validator *DataQualityValidator
	cache     map[string][]types.MarketDataPoint
	metadata  map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, cfg types.DataConfig) (*Store, error) {
	validator := NewDataQualityValidator(logger)
	if cfg.MinimumBars > 0 {
		validator.MinimumBars = cfg.MinimumBars
	}

	store := &Store{
		logger:    logger,
		dataDir:   cfg.DataDir,
		strict:    cfg.StrictQuality,
		validator: validator,
		cache:     make(map[string][]types.MarketDataPoint),
		metadata:  make(map[string]*SymbolMetadata),
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}
	if err := store.discover(); err != nil {
		logger.Warn("Failed to scan data directory", zap.Error(err))
	}

	return store, nil
}

// Load returns a symbol's points inside [start, end]. Zero times leave that
// side of the range open.
func (s *Store) Load(ctx context.Context, symbol string, start, end time.Time) ([]types.MarketDataPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return filterByTimeRange(cached, start, end), nil
	}

	points, err := ReadFile(s.path(symbol), symbol)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, err
	}

	report := s.validator.Validate(points, symbol)
	if len(report.Issues) > 0 {
		s.logger.Warn("Market data quality issues",
			zap.String("symbol", symbol),
			zap.Int("issues", len(report.Issues)),
			zap.Int("score", report.QualityScore),
			zap.Bool("usable", report.IsUsable),
		)
	}
	if s.strict && !report.IsUsable {
		return nil, fmt.Errorf("%w: %s scored %d", ErrUnusableData, symbol, report.QualityScore)
	}

	points = s.validator.Clean(points)
	s.cache[symbol] = points
	s.recordMetadata(symbol, points)

	return filterByTimeRange(points, start, end), nil
}

// LoadAll loads every symbol into the map shape the engines consume
func (s *Store) LoadAll(ctx context.Context, symbols []string, start, end time.Time) (map[string][]types.MarketDataPoint, error) {
	out := make(map[string][]types.MarketDataPoint, len(symbols))
	for _, symbol := range symbols {
		points, err := s.Load(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		out[symbol] = points
	}
	return out, nil
}

// Quality validates a symbol's full stored series
func (s *Store) Quality(ctx context.Context, symbol string) (*QualityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	points, err := ReadFile(s.path(symbol), symbol)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, err
	}
	return s.validator.Validate(points, symbol), nil
}

// Save writes a symbol's points to disk, replacing any existing file
func (s *Store) Save(symbol string, points []types.MarketDataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]types.MarketDataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	for i := range sorted {
		sorted[i].Symbol = symbol
	}

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := os.WriteFile(s.path(symbol), data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[symbol] = sorted
	s.recordMetadata(symbol, sorted)

	return s.saveMetadata()
}

// Symbols returns all symbols with stored data, sorted
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Metadata returns the stored metadata for a symbol
func (s *Store) Metadata(symbol string) (SymbolMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return *meta, nil
	}
	return SymbolMetadata{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]types.MarketDataPoint)
}

// CacheSize returns the number of cached series
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

// ReadFile decodes a JSON array of points from path. Points without a
// symbol are assigned symbol.
func ReadFile(path, symbol string) ([]types.MarketDataPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := Decode(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// Decode reads a JSON array of points. Points without a symbol are
// assigned symbol.
func Decode(r io.Reader, symbol string) ([]types.MarketDataPoint, error) {
	var points []types.MarketDataPoint
	if err := json.NewDecoder(r).Decode(&points); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	for i := range points {
		if points[i].Symbol == "" {
			points[i].Symbol = symbol
		}
	}
	return points, nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dataDir, fileNameReplacer.Replace(symbol)+".json")
}

// recordMetadata must be called with the lock held
func (s *Store) recordMetadata(symbol string, points []types.MarketDataPoint) {
	if len(points) == 0 {
		return
	}
	s.metadata[symbol] = &SymbolMetadata{
		Symbol:    symbol,
		StartDate: points[0].Date,
		EndDate:   points[len(points)-1].Date,
		BarCount:  len(points),
	}
}

// filterByTimeRange keeps points inside [start, end]
func filterByTimeRange(points []types.MarketDataPoint, start, end time.Time) []types.MarketDataPoint {
	filtered := make([]types.MarketDataPoint, 0, len(points))
	for _, p := range points {
		if !start.IsZero() && p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// loadMetadata loads symbol metadata from disk
func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	if metadata != nil {
		s.metadata = metadata
	}
	return nil
}

// discover registers data files that have no metadata entry yet. Their
// ranges are filled in on first load.
func (s *Store) discover() error {
	known := make(map[string]bool, len(s.metadata))
	for symbol := range s.metadata {
		known[filepath.Base(s.path(symbol))] = true
	}

	files, err := filepath.Glob(filepath.Join(s.dataDir, "*.json"))
	if err != nil {
		return err
	}
	for _, file := range files {
		name := filepath.Base(file)
		if name == metadataFile || known[name] {
			continue
		}
		symbol := strings.TrimSuffix(name, ".json")
		s.metadata[symbol] = &SymbolMetadata{Symbol: symbol}
	}
	return nil
}

// saveMetadata saves symbol metadata to disk
func (s *Store) saveMetadata() error {
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, metadataFile), data, 0644)
}
