package risk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubSources serves fixed signals for one or more investments.
type stubSources struct {
	mu          sync.Mutex
	investments map[string]*Investment
	borrowers   map[string]*Borrower
	documents   map[string][]Document
	history     map[string]*History
	behavior    map[string]*BehavioralSignals
	market      *MarketSignals
	social      map[string]*SocialSignals

	failures map[Source]error
	delays   map[Source]time.Duration
	calls    map[Source]int
}

func newStubSources() *stubSources {
	return &stubSources{
		investments: make(map[string]*Investment),
		borrowers:   make(map[string]*Borrower),
		documents:   make(map[string][]Document),
		history:     make(map[string]*History),
		behavior:    make(map[string]*BehavioralSignals),
		social:      make(map[string]*SocialSignals),
		failures:    make(map[Source]error),
		delays:      make(map[Source]time.Duration),
		calls:       make(map[Source]int),
	}
}

func (s *stubSources) sources() Sources {
	return Sources{
		Investments: s,
		Borrowers:   s,
		Documents:   s,
		History:     s,
		Behavior:    s,
		Market:      s,
		Social:      s,
	}
}

func (s *stubSources) fail(src Source, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[src] = err
}

func (s *stubSources) delay(src Source, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[src] = d
}

func (s *stubSources) callCount(src Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[src]
}

// enter records a call and applies the configured delay and failure.
func (s *stubSources) enter(ctx context.Context, src Source) error {
	s.mu.Lock()
	s.calls[src]++
	d, err := s.delays[src], s.failures[src]
	s.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *stubSources) GetInvestment(_ context.Context, id string) (*Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *stubSources) GetBorrower(_ context.Context, id string) (*Borrower, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.borrowers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *stubSources) ListDocuments(ctx context.Context, borrowerID string) ([]Document, error) {
	if err := s.enter(ctx, SourceDocuments); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.documents[borrowerID]...), nil
}

func (s *stubSources) GetHistory(ctx context.Context, borrowerID string) (*History, error) {
	if err := s.enter(ctx, SourceHistory); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[borrowerID]
	if !ok {
		return &History{}, nil
	}
	cp := *h
	cp.AsBorrower = append([]PastInvestment(nil), h.AsBorrower...)
	return &cp, nil
}

func (s *stubSources) GetBehavioralSignals(ctx context.Context, borrowerID string) (*BehavioralSignals, error) {
	if err := s.enter(ctx, SourceBehavior); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.behavior[borrowerID]
	if !ok {
		return nil, errors.New("no behavioral data")
	}
	cp := *b
	return &cp, nil
}

func (s *stubSources) GetMarketSignals(ctx context.Context, _ string) (*MarketSignals, error) {
	if err := s.enter(ctx, SourceMarket); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.market == nil {
		return nil, errors.New("no market data")
	}
	cp := *s.market
	return &cp, nil
}

func (s *stubSources) GetSocialSignals(ctx context.Context, borrowerID string) (*SocialSignals, error) {
	if err := s.enter(ctx, SourceSocial); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.social[borrowerID]
	if !ok {
		return &SocialSignals{}, nil
	}
	cp := *so
	return &cp, nil
}

func verifiedDoc(id, typ string, uploaded time.Time) Document {
	return Document{
		ID:                 id,
		Type:               typ,
		VerificationStatus: DocVerified,
		SecurityChecks:     SecurityChecks{VirusScanStatus: ScanClean, DuplicateStatus: DupUnique},
		UploadedAt:         uploaded,
	}
}

func past(id, status string, amount int64) PastInvestment {
	return PastInvestment{ID: id, Status: status, Amount: decimal.NewFromInt(amount)}
}

// addLowRisk seeds a well-established borrower asking for a typical amount.
func (s *stubSources) addLowRisk(investmentID, borrowerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investments[investmentID] = &Investment{
		ID:          investmentID,
		BorrowerID:  borrowerID,
		Amount:      decimal.NewFromInt(1000),
		Purpose:     "Education",
		Description: strings.Repeat("tuition ", 25),
		Status:      InvestmentPending,
		CreatedAt:   testNow.Add(-time.Hour),
	}
	s.borrowers[borrowerID] = &Borrower{
		ID:              borrowerID,
		ReputationScore: 80,
		IsVerified:      true,
		Location:        "US",
		JoinedAt:        testNow.AddDate(0, 0, -400),
	}
	recent := testNow.AddDate(0, 0, -10)
	s.documents[borrowerID] = []Document{
		verifiedDoc("d1", "bank_statement", recent),
		verifiedDoc("d2", "income_proof", recent),
		verifiedDoc("d3", "tax_document", recent),
	}
	s.history[borrowerID] = &History{
		AsBorrower: []PastInvestment{
			past("p1", InvestmentCompleted, 1000),
			past("p2", InvestmentCompleted, 1000),
		},
		AsInvestorCount: 2,
	}
	s.behavior[borrowerID] = &BehavioralSignals{
		LoginFrequency:            8,
		AvgTransactionTimeMinutes: 1,
		DeviceCount:               1,
		AnomalyScore:              0.1,
	}
	s.market = &MarketSignals{VolatilityIndex: 0.2, Trend: "stable"}
	s.social[borrowerID] = &SocialSignals{Connections: 10, VerifiedConnections: 8}
}

// addHighRisk seeds a new, unverified borrower with prior defaults.
func (s *stubSources) addHighRisk(investmentID, borrowerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investments[investmentID] = &Investment{
		ID:         investmentID,
		BorrowerID: borrowerID,
		Amount:     decimal.NewFromInt(50000),
		Purpose:    "Travel",
		Status:     InvestmentPending,
		CreatedAt:  testNow.Add(-time.Hour),
	}
	s.borrowers[borrowerID] = &Borrower{
		ID:              borrowerID,
		ReputationScore: 10,
		IsVerified:      false,
		Location:        "Atlantis",
		JoinedAt:        testNow.AddDate(0, 0, -10),
	}
	s.history[borrowerID] = &History{
		AsBorrower: []PastInvestment{
			past("p1", InvestmentDefaulted, 1000),
			past("p2", InvestmentDefaulted, 1000),
			past("p3", InvestmentDefaulted, 1000),
			past("p4", InvestmentActive, 20000),
		},
	}
	s.behavior[borrowerID] = &BehavioralSignals{
		LoginFrequency:            0.5,
		AvgTransactionTimeMinutes: 20,
		DeviceCount:               7,
		AnomalyScore:              0.8,
	}
	s.market = &MarketSignals{VolatilityIndex: 0.9, Trend: "declining"}
	s.social[borrowerID] = &SocialSignals{Connections: 10, VerifiedConnections: 1, SuspiciousConnections: 6}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingScheduler captures ScheduleCheck calls.
type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
	err   error
	done  chan struct{}
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{done: make(chan struct{}, 16)}
}

func (r *recordingScheduler) ScheduleCheck(_ context.Context, investmentID, _ string, _ time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, investmentID)
	err := r.err
	r.mu.Unlock()
	r.done <- struct{}{}
	return err
}

func (r *recordingScheduler) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestEngine(src *stubSources, clock *fakeClock) (*Engine, *MemoryStore) {
	store := NewMemoryStore()
	e := NewEngine(store, src.sources()).
		WithClock(clock.Now).
		WithSourceTimeout(200 * time.Millisecond)
	return e, store
}
