// Package memory provides in-memory adapter implementations for testing
// and single-process deployments without persistence.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// usageShard is a single shard of the usage store.
type usageShard struct {
	mu       sync.RWMutex
	current  map[string]usage.Record   // keyed by userID
	archived map[string][]usage.Record // past periods, keyed by userID
	seq      map[string]int64
}

// UsageStore is a sharded in-memory implementation of ports.UsageStore.
// Sharding reduces lock contention when many users track concurrently.
type UsageStore struct {
	shards    []*usageShard
	numShards int
	clock     ports.Clock
}

// NewUsageStore creates a sharded in-memory usage store.
func NewUsageStore(clock ports.Clock, numShards int) *UsageStore {
	if numShards <= 0 {
		numShards = 32
	}
	s := &UsageStore{
		shards:    make([]*usageShard, numShards),
		numShards: numShards,
		clock:     clock,
	}
	for i := range s.shards {
		s.shards[i] = &usageShard{
			current:  make(map[string]usage.Record),
			archived: make(map[string][]usage.Record),
			seq:      make(map[string]int64),
		}
	}
	return s
}

// getShard returns the shard for a given user using consistent hashing.
func (s *UsageStore) getShard(userID string) *usageShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves the record for the user's current period. Unknown users
// get a zero-valued record.
func (s *UsageStore) Get(_ context.Context, userID string) (usage.Record, error) {
	start, _ := usage.PeriodBounds(s.clock.Now())
	shard := s.getShard(userID)

	shard.mu.RLock()
	rec, ok := shard.current[userID]
	shard.mu.RUnlock()

	if !ok || !rec.PeriodStart.Equal(start) {
		return usage.Record{UserID: userID, PeriodStart: start}, nil
	}
	return rec, nil
}

// Increment atomically adds amount to a discrete meter's counter.
func (s *UsageStore) Increment(_ context.Context, userID string, m meter.Type, amount int64) error {
	if m.Kind() != meter.KindCounter {
		return &meterKindError{meter: m, want: "counter"}
	}
	return s.apply(userID, m, float64(amount))
}

// SetGauge overwrites a continuous meter's value.
func (s *UsageStore) SetGauge(_ context.Context, userID string, m meter.Type, value float64) error {
	if m.Kind() != meter.KindGauge {
		return &meterKindError{meter: m, want: "gauge"}
	}
	return s.apply(userID, m, value)
}

func (s *UsageStore) apply(userID string, m meter.Type, amount float64) error {
	now := s.clock.Now()
	start, _ := usage.PeriodBounds(now)
	shard := s.getShard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.current[userID]
	if !ok || !rec.PeriodStart.Equal(start) {
		rec = usage.Record{UserID: userID, PeriodStart: start}
	}
	shard.current[userID] = usage.Apply(rec, m, amount, now)
	return nil
}

// NextSequence atomically advances and returns the user's event sequence.
func (s *UsageStore) NextSequence(_ context.Context, userID string) (int64, error) {
	shard := s.getShard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.seq[userID]++
	return shard.seq[userID], nil
}

// Rollover archives the open record once its period has ended. A second
// call for the same boundary has no additional effect.
func (s *UsageStore) Rollover(_ context.Context, userID string, now time.Time) error {
	start, _ := usage.PeriodBounds(now)
	shard := s.getShard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.current[userID]
	if !ok || !rec.PeriodStart.Before(start) {
		return nil
	}
	shard.archived[userID] = append(shard.archived[userID], rec)
	delete(shard.current, userID)
	return nil
}

// History returns archived records for past periods, newest first.
func (s *UsageStore) History(_ context.Context, userID string, periods int) ([]usage.Record, error) {
	shard := s.getShard(userID)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	archived := shard.archived[userID]
	out := make([]usage.Record, len(archived))
	copy(out, archived)
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.After(out[j].PeriodStart)
	})
	if periods > 0 && len(out) > periods {
		out = out[:periods]
	}
	return out, nil
}

// Clear removes all state (for testing).
func (s *UsageStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.current = make(map[string]usage.Record)
		shard.archived = make(map[string][]usage.Record)
		shard.seq = make(map[string]int64)
		shard.mu.Unlock()
	}
}

// Len returns the number of users with current-period records (for testing).
func (s *UsageStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.current)
		shard.mu.RUnlock()
	}
	return total
}

type meterKindError struct {
	meter meter.Type
	want  string
}

func (e *meterKindError) Error() string {
	return "meter " + string(e.meter) + " is not a " + e.want
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
