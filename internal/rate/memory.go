package rate

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type memoryRecord struct {
	Record
	window time.Duration
}

// MemoryConfig tunes a [MemoryStore].
type MemoryConfig struct {
	SweepInterval time.Duration
	Now           func() time.Time
}

// MemoryStore keeps window records in process memory. Sweeps run on a
// background goroutine until Close.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryStore starts a [MemoryStore]. A non-positive SweepInterval falls back to one minute.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     cfg.Now,
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run(cfg.SweepInterval)

	return s
}

func (s *MemoryStore) Admit(_ context.Context, key string, maxAttempts int, window time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &memoryRecord{}
	}
	rec.window = window

	allowed := admitRecord(&rec.Record, ok, maxAttempts, window, now)
	s.records[key] = rec
	return allowed, nil
}

// Get returns the current record for key.
func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep evicts every record whose window ended before now and returns the count removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if now.After(rec.WindowStart.Add(rec.window)) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) run(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(s.now())
		case <-s.done:
			return
		}
	}
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (s *MemoryStore) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
