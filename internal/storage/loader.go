package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fedspend/internal/models"
)

// ErrNoSnapshot is returned when no readable snapshot exists in the data directory.
var ErrNoSnapshot = errors.New("no snapshot found")

// Snapshot is a loaded record set and where it came from.
type Snapshot struct {
	ModTime time.Time
	Path    string
	Set     models.RecordSet
}

// LoadLatest reads the most recent snapshot. It tries the latest CSV, the
// latest JSON, then the newest timestamped CSV and JSON files.
func LoadLatest(dir, prefix string) (*Snapshot, error) {
	candidates := []string{
		filepath.Join(dir, prefix+"_latest.csv"),
		filepath.Join(dir, prefix+"_latest.json"),
	}

	for _, ext := range []string{"csv", "json"} {
		if p := newestStamped(dir, prefix, ext); p != "" {
			candidates = append(candidates, p)
		}
	}

	var errs []error

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		set, err := readSnapshot(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))

			continue
		}

		return &Snapshot{ModTime: info.ModTime(), Path: path, Set: set}, nil
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w in %s: %w", ErrNoSnapshot, dir, errors.Join(errs...))
	}

	return nil, fmt.Errorf("%w in %s", ErrNoSnapshot, dir)
}

func readSnapshot(path string) (models.RecordSet, error) {
	if strings.HasSuffix(path, ".json") {
		doc, err := ReadJSON(path)
		if err != nil {
			return models.RecordSet{}, err
		}

		return doc.RecordSet(), nil
	}

	return ReadCSV(path)
}

// newestStamped returns the newest timestamped snapshot of ext, or "".
func newestStamped(dir, prefix, ext string) string {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s_*.%s", prefix, ext)))
	if err != nil {
		return ""
	}

	latest := fmt.Sprintf("%s_latest.%s", prefix, ext)

	var stamped []string

	for _, m := range matches {
		if filepath.Base(m) != latest {
			stamped = append(stamped, m)
		}
	}

	if len(stamped) == 0 {
		return ""
	}

	// Timestamps sort lexically.
	sort.Strings(stamped)

	return stamped[len(stamped)-1]
}
