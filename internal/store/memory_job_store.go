package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/filter"
	"github.com/wolfeidau/queryjobs/internal/jobs"
)

// MemoryJobStore implements JobStore using in-memory storage. Rows are kept
// in submission order so listings are deterministic.
type MemoryJobStore struct {
	mu sync.RWMutex

	rows  map[string]*jobs.JobRow // ticket -> row
	order []string                // tickets in submission order
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		rows: make(map[string]*jobs.JobRow),
	}
}

// Start is a no-op for the memory store.
func (s *MemoryJobStore) Start() error {
	return nil
}

// Stop is a no-op for the memory store.
func (s *MemoryJobStore) Stop() error {
	return nil
}

// Get returns a copy of the row for the ticket, or nil when absent.
func (s *MemoryJobStore) Get(ctx context.Context, ticket string) (*jobs.JobRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[ticket]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

// GetAll returns copies of every row in submission order.
func (s *MemoryJobStore) GetAll(ctx context.Context) ([]*jobs.JobRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*jobs.JobRow, 0, len(s.order))
	for _, ticket := range s.order {
		out = append(out, s.rows[ticket].Clone())
	}
	return out, nil
}

// GetFiltered returns copies of the rows matching every predicate, in
// submission order. An empty filter set returns all rows.
func (s *MemoryJobStore) GetFiltered(ctx context.Context, filters filter.FilterSet) ([]*jobs.JobRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.JobRow
	for _, ticket := range s.order {
		row := s.rows[ticket]
		if filters.MatchesAll(row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// Save stores a copy of the row, replacing any existing row for the ticket.
func (s *MemoryJobStore) Save(ctx context.Context, row *jobs.JobRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[row.Ticket]; !exists {
		s.order = append(s.order, row.Ticket)
	}
	s.rows[row.Ticket] = row.Clone()

	log.Debug().Str("ticket", row.Ticket).Int("fields", len(row.Fields)).Msg("Saved job row")
	return nil
}
