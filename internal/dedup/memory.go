package dedup

import (
	"context"
	"sync"
	"time"

	"plane-relay/internal/models"
)

type memoryRecord struct {
	outcome   models.DeliveryOutcome
	inFlight  bool
	claimedAt time.Time
	updatedAt time.Time
}

// MemoryStore is the default process-lifetime store. Acceptable data loss on
// restart: at most one redelivery of events in flight at crash time.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	opts    Options
	now     func() time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*memoryRecord),
		opts:      opts.withDefaults(),
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
}

func (s *MemoryStore) Claim(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, exists := s.records[eventID]
	if exists {
		switch {
		case rec.outcome == models.OutcomeDelivered:
			return ErrDuplicate
		case rec.inFlight && now.Sub(rec.claimedAt) < s.opts.ClaimTTL:
			return ErrInFlight
		}
	}

	// Fresh id, a failed-permanently record, or an expired claim: take it.
	s.records[eventID] = &memoryRecord{
		inFlight:  true,
		claimedAt: now,
		updatedAt: now,
	}
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, eventID string, outcome models.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[eventID] = &memoryRecord{
		outcome:   outcome,
		updatedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[eventID]; ok && rec.inFlight {
		delete(s.records, eventID)
	}
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
	return nil
}

// StartSweeper purges terminal records older than the retention window in
// the background. Live claims are never touched.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSweep:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep removes expired terminal records and returns how many were purged.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.opts.Retention)
	purged := 0
	for id, rec := range s.records {
		if rec.inFlight {
			continue
		}
		if rec.updatedAt.Before(cutoff) {
			delete(s.records, id)
			purged++
		}
	}
	return purged
}

// Len reports the record count, for tests and debug endpoints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
