// training_store.go - sparse (lux, luma, backlight) point set, text-file backed

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// resolveDataPath honours XDG_DATA_HOME when set, falling back to the
// conventional ~/.local/share layout otherwise.
func resolveDataPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "wluma", "data")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "wluma", "data")
}

// TrainingStore holds the confirmed training points and persists them
// to a plain text file, one "lux luma backlight" record per line.
type TrainingStore struct {
	path   string
	points []Point
	log    zerolog.Logger
}

// NewTrainingStore creates a store backed by path, creating the
// containing directory (mode 0700) if needed.
func NewTrainingStore(path string, log zerolog.Logger) (*TrainingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("training store: create data dir: %w", err)
	}
	return &TrainingStore{path: path, log: log}, nil
}

// Points returns a copy of the current point set.
func (s *TrainingStore) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// MaxLux returns the largest lux value among the loaded points, or 0
// if the set is empty.
func (s *TrainingStore) MaxLux() int {
	max := 0
	for _, p := range s.points {
		if p.Lux > max {
			max = p.Lux
		}
	}
	return max
}

// Load reads the point set from disk. A missing file is treated as an
// empty set. A malformed line aborts the load: the process logs a
// warning, starts with an empty set, and leaves the on-disk file
// untouched for forensic purposes.
func (s *TrainingStore) Load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.points = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("training store: open %s: %w", s.path, err)
	}
	defer f.Close()

	var loaded []Point
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Point
		if _, err := fmt.Sscanf(line, "%d %d %d", &p.Lux, &p.Luma, &p.Backlight); err != nil {
			s.log.Warn().Str("line", line).Msg("training store: malformed record, starting with empty set")
			s.points = nil
			return nil
		}
		loaded = append(loaded, p)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn().Err(err).Msg("training store: read error, starting with empty set")
		s.points = nil
		return nil
	}
	s.points = loaded
	return nil
}

// Save truncates the file and rewrites every point, opened with
// O_SYNC so a crash loses no more than the most recent save.
func (s *TrainingStore) Save() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("training store: open %s: %w", s.path, err)
	}
	defer f.Close()

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("training store: truncate: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("training store: seek: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, p := range s.points {
		if _, err := fmt.Fprintf(w, "%d %d %d\n", p.Lux, p.Luma, p.Backlight); err != nil {
			return fmt.Errorf("training store: write: %w", err)
		}
	}
	return w.Flush()
}

// Insert appends p to the set, pruning every existing point it now
// dominates, then persists the result. Save errors are logged but the
// in-memory mutation is not rolled back.
func (s *TrainingStore) Insert(p Point) {
	s.points = prune(s.points, p)
	s.points = append(s.points, p)
	if err := s.Save(); err != nil {
		s.log.Error().Err(err).Msg("training store: save failed")
	}
}
