package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/jobs"
	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

// MemoryResultStore implements ResultStore using in-memory storage. Results
// are write-once per ticket.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*jobs.Result
}

// NewMemoryResultStore creates a new in-memory result store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		results: make(map[string]*jobs.Result),
	}
}

// Get returns a copy of the stored result, or nil when not yet available.
func (s *MemoryResultStore) Get(ctx context.Context, ticket string) (*jobs.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[ticket]
	if !ok {
		return nil, nil
	}
	return cloneResult(result), nil
}

// Save stores the result. A second save for the same ticket fails with
// ErrResultExists.
func (s *MemoryResultStore) Save(ctx context.Context, result *jobs.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.Ticket]; exists {
		return fmt.Errorf("%w: %s", ErrResultExists, result.Ticket)
	}

	stored := cloneResult(result)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	s.results[result.Ticket] = stored

	m := telemetry.GetMetrics()
	m.ResultsStoredTotal.Add(ctx, 1)
	m.ResultBytesStored.Add(ctx, int64(len(result.Payload)))

	log.Debug().Str("ticket", result.Ticket).Int("bytes", len(result.Payload)).Msg("Stored job result")
	return nil
}

func cloneResult(r *jobs.Result) *jobs.Result {
	out := *r
	out.Payload = make([]byte, len(r.Payload))
	copy(out.Payload, r.Payload)
	return &out
}
