// Package platform provides the collaborator data the risk engine scores:
// investments, borrowers, documents, track records and behavioral, market
// and social signals.
package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blockvest/blockvest/internal/risk"
)

// Compile-time checks that MemoryDirectory serves every risk source.
var (
	_ risk.InvestmentSource = (*MemoryDirectory)(nil)
	_ risk.BorrowerSource   = (*MemoryDirectory)(nil)
	_ risk.DocumentSource   = (*MemoryDirectory)(nil)
	_ risk.HistorySource    = (*MemoryDirectory)(nil)
	_ risk.BehaviorSource   = (*MemoryDirectory)(nil)
	_ risk.MarketSource     = (*MemoryDirectory)(nil)
	_ risk.SocialSource     = (*MemoryDirectory)(nil)
)

// DefaultMarket is the market key used when a purpose has no entry.
const DefaultMarket = "default"

// MemoryDirectory is an in-memory platform directory for demo/test use.
type MemoryDirectory struct {
	mu           sync.RWMutex
	investments  map[string]*risk.Investment
	borrowers    map[string]*risk.Borrower
	documents    map[string][]risk.Document         // borrowerID → documents
	participants map[string]map[string]bool         // investorID → investmentIDs
	behavior     map[string]*risk.BehavioralSignals // borrowerID → signals
	markets      map[string]*risk.MarketSignals     // purpose → signals
	social       map[string]*risk.SocialSignals     // borrowerID → signals
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		investments:  make(map[string]*risk.Investment),
		borrowers:    make(map[string]*risk.Borrower),
		documents:    make(map[string][]risk.Document),
		participants: make(map[string]map[string]bool),
		behavior:     make(map[string]*risk.BehavioralSignals),
		markets:      make(map[string]*risk.MarketSignals),
		social:       make(map[string]*risk.SocialSignals),
	}
}

// Sources returns the directory wired into every risk source slot.
func (d *MemoryDirectory) Sources() risk.Sources {
	return risk.Sources{
		Investments: d,
		Borrowers:   d,
		Documents:   d,
		History:     d,
		Behavior:    d,
		Market:      d,
		Social:      d,
	}
}

func marketKey(purpose string) string {
	return strings.ToLower(strings.TrimSpace(purpose))
}

// PutBorrower stores or replaces a borrower.
func (d *MemoryDirectory) PutBorrower(b *risk.Borrower) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *b
	d.borrowers[b.ID] = &cp
}

// PutInvestment stores or replaces an investment.
func (d *MemoryDirectory) PutInvestment(inv *risk.Investment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *inv
	d.investments[inv.ID] = &cp
}

// AddDocument attaches a document to a borrower.
func (d *MemoryDirectory) AddDocument(borrowerID string, doc risk.Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.documents[borrowerID] = append(d.documents[borrowerID], doc)
}

// AddParticipation records that investorID funded investmentID.
func (d *MemoryDirectory) AddParticipation(investorID, investmentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.participants[investorID] == nil {
		d.participants[investorID] = make(map[string]bool)
	}
	d.participants[investorID][investmentID] = true
}

// SetBehavior stores a borrower's behavioral signals.
func (d *MemoryDirectory) SetBehavior(borrowerID string, b risk.BehavioralSignals) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behavior[borrowerID] = &b
}

// SetMarket stores market signals for a purpose, or DefaultMarket.
func (d *MemoryDirectory) SetMarket(purpose string, m risk.MarketSignals) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markets[marketKey(purpose)] = &m
}

// SetSocial stores a borrower's social graph signals.
func (d *MemoryDirectory) SetSocial(borrowerID string, s risk.SocialSignals) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.social[borrowerID] = &s
}

func (d *MemoryDirectory) GetInvestment(_ context.Context, id string) (*risk.Investment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inv, ok := d.investments[id]
	if !ok {
		return nil, fmt.Errorf("investment %s: %w", id, risk.ErrNotFound)
	}
	cp := *inv
	return &cp, nil
}

func (d *MemoryDirectory) GetBorrower(_ context.Context, id string) (*risk.Borrower, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.borrowers[id]
	if !ok {
		return nil, fmt.Errorf("borrower %s: %w", id, risk.ErrNotFound)
	}
	cp := *b
	if b.Financials != nil {
		f := *b.Financials
		cp.Financials = &f
	}
	return &cp, nil
}

func (d *MemoryDirectory) ListDocuments(_ context.Context, borrowerID string) ([]risk.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs := append([]risk.Document(nil), d.documents[borrowerID]...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

// GetHistory derives the track record from stored investments. Pending
// requests are not history.
func (d *MemoryDirectory) GetHistory(_ context.Context, borrowerID string) (*risk.History, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := &risk.History{AsInvestorCount: len(d.participants[borrowerID])}
	for _, inv := range d.investments {
		if inv.BorrowerID != borrowerID || inv.Status == risk.InvestmentPending {
			continue
		}
		h.AsBorrower = append(h.AsBorrower, risk.PastInvestment{
			ID:     inv.ID,
			Status: inv.Status,
			Amount: inv.Amount,
		})
	}
	sort.Slice(h.AsBorrower, func(i, j int) bool { return h.AsBorrower[i].ID < h.AsBorrower[j].ID })
	return h, nil
}

func (d *MemoryDirectory) GetBehavioralSignals(_ context.Context, borrowerID string) (*risk.BehavioralSignals, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.behavior[borrowerID]
	if !ok {
		return nil, fmt.Errorf("behavioral signals for %s: %w", borrowerID, risk.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (d *MemoryDirectory) GetMarketSignals(_ context.Context, purpose string) (*risk.MarketSignals, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.markets[marketKey(purpose)]
	if !ok {
		m, ok = d.markets[DefaultMarket]
	}
	if !ok {
		return nil, fmt.Errorf("market signals for %q: %w", purpose, risk.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// GetSocialSignals returns an empty graph for borrowers without connections.
func (d *MemoryDirectory) GetSocialSignals(_ context.Context, borrowerID string) (*risk.SocialSignals, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.social[borrowerID]
	if !ok {
		return &risk.SocialSignals{}, nil
	}
	cp := *s
	return &cp, nil
}
