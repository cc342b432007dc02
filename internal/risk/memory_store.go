package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Assessments live in an arena keyed by ID; a second map indexes the active
// assessment per investment.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Assessment
	active map[string]string // investmentID → assessmentID
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Assessment),
		active: make(map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetActive(ctx context.Context, investmentID string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[investmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Activate(ctx context.Context, next *Assessment, expectedActiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[next.InvestmentID] != expectedActiveID {
		return ErrConflict
	}
	if prev, ok := s.byID[expectedActiveID]; ok {
		prev.IsActive = false
	}

	stored := next.Clone()
	stored.IsActive = true
	s.byID[stored.ID] = stored
	s.active[stored.InvestmentID] = stored.ID
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Assessment, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	if !cur.IsActive || cur.Version != expectedVersion {
		return ErrConflict
	}
	s.byID[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*Assessment, error) {
	return s.list(limit, newestFirst, func(a *Assessment) bool {
		return a.BorrowerID == borrowerID
	}), nil
}

func (s *MemoryStore) ListActive(ctx context.Context, since time.Time, limit int) ([]*Assessment, error) {
	return s.list(limit, newestFirst, func(a *Assessment) bool {
		return a.IsActive && !a.ComputedAt.Before(since)
	}), nil
}

func (s *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Assessment, error) {
	return s.list(limit, dueFirst, func(a *Assessment) bool {
		return a.IsActive && !a.NextAssessmentAt.After(before)
	}), nil
}

func newestFirst(a, b *Assessment) bool {
	if a.ComputedAt.Equal(b.ComputedAt) {
		return a.ID > b.ID
	}
	return a.ComputedAt.After(b.ComputedAt)
}

func dueFirst(a, b *Assessment) bool {
	if a.NextAssessmentAt.Equal(b.NextAssessmentAt) {
		return a.ID < b.ID
	}
	return a.NextAssessmentAt.Before(b.NextAssessmentAt)
}

func (s *MemoryStore) list(limit int, less func(a, b *Assessment) bool, match func(*Assessment) bool) []*Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Assessment
	for _, a := range s.byID {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, a := range out {
		out[i] = a.Clone()
	}
	return out
}
