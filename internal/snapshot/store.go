package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
)

// ErrPersistence wraps snapshot read/write failures. The previous on-disk
// snapshot is never corrupted: writes go to a temp file first and replace the
// target in one rename.
var ErrPersistence = errors.New("snapshot persistence failure")

const (
	dayLayout  = "060102"
	timeLayout = "1504"
)

// Store keeps exactly one authoritative JSON snapshot per dataset per local
// calendar day, named {dataset}_{yymmdd}-{hhmm}.json. "Today" is the process
// local date: the workflow is operator-driven and the operator's wall clock
// decides when a new day (and a fresh fetch) starts.
type Store struct {
	dir     string
	dataset string
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(dir, dataset string, logger *slog.Logger) *Store {
	return &Store{
		dir:     dir,
		dataset: dataset,
		logger:  logger.With("component", "snapshot_store"),
		now:     time.Now,
	}
}

// WithClock overrides the store's clock; tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) dayPrefix(day time.Time) string {
	return fmt.Sprintf("%s_%s-", s.dataset, day.Format(dayLayout))
}

func (s *Store) fileName(t time.Time) string {
	return fmt.Sprintf("%s_%s-%s.json", s.dataset, t.Format(dayLayout), t.Format(timeLayout))
}

// sameDayFiles returns today's snapshot files sorted ascending by name; the
// time-of-write in the name makes lexical order chronological.
func (s *Store) sameDayFiles(day time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := s.dayPrefix(day)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadToday returns the current day's snapshot, or ok=false when absent.
func (s *Store) LoadToday() ([]domain.ShipmentRecord, bool, error) {
	names, err := s.sameDayFiles(s.now())
	if err != nil {
		return nil, false, fmt.Errorf("%w: listing snapshot dir: %v", ErrPersistence, err)
	}
	if len(names) == 0 {
		return nil, false, nil
	}

	// Most recent file for today is authoritative.
	path := filepath.Join(s.dir, names[len(names)-1])
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading %s: %v", ErrPersistence, path, err)
	}

	var records []domain.ShipmentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("%w: decoding %s: %v", ErrPersistence, path, err)
	}

	s.logger.Debug("Loaded snapshot", "path", path, "records", len(records))
	return records, true, nil
}

// SaveToday atomically replaces all prior same-day files with exactly one new
// snapshot and returns its path.
func (s *Store) SaveToday(records []domain.ShipmentRecord) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating snapshot dir: %v", ErrPersistence, err)
	}

	now := s.now()
	previous, err := s.sameDayFiles(now)
	if err != nil {
		return "", fmt.Errorf("%w: listing snapshot dir: %v", ErrPersistence, err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encoding records: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: writing temp file: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: closing temp file: %v", ErrPersistence, err)
	}

	target := filepath.Join(s.dir, s.fileName(now))
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: replacing snapshot: %v", ErrPersistence, err)
	}

	for _, name := range previous {
		path := filepath.Join(s.dir, name)
		if path == target {
			continue
		}
		if err := os.Remove(path); err != nil {
			// Leftovers lose the "most recent file" race anyway; warn and move on.
			s.logger.Warn("Failed to prune superseded snapshot", "path", path, "error", err)
		}
	}

	s.logger.Info("Saved snapshot", "path", target, "records", len(records))
	return target, nil
}

// PruneBefore removes snapshot files for this dataset older than the given
// day and reports how many were deleted.
func (s *Store) PruneBefore(day time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: listing snapshot dir: %v", ErrPersistence, err)
	}

	cutoff := day.Format(dayLayout)
	prefix := s.dataset + "_"
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		stamp := strings.TrimPrefix(name, prefix)
		if len(stamp) < len(dayLayout) || stamp[:len(dayLayout)] >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, fmt.Errorf("%w: pruning %s: %v", ErrPersistence, name, err)
		}
		removed++
	}
	return removed, nil
}
