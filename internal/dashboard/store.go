package dashboard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"fedspend/internal/logger"
	"fedspend/internal/models"
	"fedspend/internal/storage"
)

// ErrNoData is returned by queries before a snapshot has been loaded.
var ErrNoData = errors.New("no snapshot loaded")

// StoreOptions configures where snapshots are read from and when filter
// results are cached.
type StoreOptions struct {
	Dir            string
	Prefix         string
	CacheThreshold int
	CacheTTL       time.Duration
}

// Store holds the latest snapshot in memory.
type Store struct {
	cache *cache.Cache
	log   *logger.Logger
	snap  *storage.Snapshot
	opts  StoreOptions
	gen   uint64
	mu    sync.RWMutex
}

// NewStore creates an empty store. Call Reload to load a snapshot.
func NewStore(opts StoreOptions, log *logger.Logger) *Store {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}

	return &Store{
		cache: cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:   log,
		opts:  opts,
	}
}

// Reload reads the latest snapshot and clears cached results. On failure the
// previous snapshot stays in place.
func (s *Store) Reload() (*storage.Snapshot, error) {
	snap, err := storage.LoadLatest(s.opts.Dir, s.opts.Prefix)
	if err != nil {
		return nil, err
	}

	s.Set(snap)
	s.log.Info(fmt.Sprintf("📂 Loaded %d records from %s", snap.Set.Len(), snap.Path))

	return snap, nil
}

// Set replaces the snapshot. Cached results carry the generation they were
// computed from, so a query still running on the old snapshot cannot serve
// its result after the swap.
func (s *Store) Set(snap *storage.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.gen++
	s.mu.Unlock()

	s.cache.Flush()
}

// Snapshot returns the current snapshot, or nil.
func (s *Store) Snapshot() *storage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap
}

// Records returns the loaded awards.
func (s *Store) Records() ([]models.Award, error) {
	snap := s.Snapshot()
	if snap == nil {
		return nil, ErrNoData
	}

	return snap.Set.Records, nil
}

// Query applies filters. Results over tables larger than the cache threshold
// are cached by filter key.
func (s *Store) Query(f Filters) (Result, error) {
	s.mu.RLock()
	snap, gen := s.snap, s.gen
	s.mu.RUnlock()

	if snap == nil {
		return Result{}, ErrNoData
	}

	records := snap.Set.Records
	useCache := len(records) > s.opts.CacheThreshold
	key := f.Key()

	if key != "" {
		key = fmt.Sprintf("%d:%s", gen, key)
	}

	if useCache && key != "" {
		if v, ok := s.cache.Get(key); ok {
			res := v.(Result)
			res.Cached = true

			return res, nil
		}
	}

	res := Apply(records, f)

	if res.Conflict != ConflictNone {
		s.log.Warn(fmt.Sprintf("⚠️  Filters removed %.1f%% of data (%s)", res.RemovedRatio()*100, res.Conflict))
	}

	if useCache && key != "" {
		s.cache.SetDefault(key, res)
		s.log.Debug(fmt.Sprintf("Cached filter result %s for %d records", key, res.Initial))
	}

	return res, nil
}
