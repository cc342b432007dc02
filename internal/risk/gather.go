package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockvest/blockvest/internal/logging"
	"github.com/blockvest/blockvest/internal/metrics"
)

// Source names a degradable signal source.
type Source string

const (
	SourceDocuments Source = "documents"
	SourceHistory   Source = "history"
	SourceBehavior  Source = "behavior"
	SourceMarket    Source = "market"
	SourceSocial    Source = "social"
)

// Default signal values used when a source is unreachable.
const (
	defaultVolatilityIndex = 0.5
	defaultMarketTrend     = "unknown"
	defaultLoginFrequency  = 3
	defaultTxTimeMinutes   = 5
	defaultDeviceCount     = 1
	defaultAnomalyScore    = 0.5
	defaultSocialRisk      = 0.5
)

func defaultBehavior() *BehavioralSignals {
	return &BehavioralSignals{
		LoginFrequency:            defaultLoginFrequency,
		AvgTransactionTimeMinutes: defaultTxTimeMinutes,
		DeviceCount:               defaultDeviceCount,
		AnomalyScore:              defaultAnomalyScore,
	}
}

func defaultMarket() *MarketSignals {
	return &MarketSignals{VolatilityIndex: defaultVolatilityIndex, Trend: defaultMarketTrend}
}

// gather loads the investment and borrower, then fans out to the degradable
// sources concurrently. Each source runs under its own timeout; a failing,
// slow, or circuit-broken source is replaced by its defaults and recorded
// in Signals.Degraded. Only a missing investment or borrower is an error.
func (e *Engine) gather(ctx context.Context, investmentID string) (*Signals, error) {
	inv, err := e.sources.Investments.GetInvestment(ctx, investmentID)
	if err != nil {
		return nil, fmt.Errorf("investment %s: %w", investmentID, err)
	}
	borrower, err := e.sources.Borrowers.GetBorrower(ctx, inv.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("borrower %s: %w", inv.BorrowerID, err)
	}

	s := &Signals{
		Investment: inv,
		Borrower:   borrower,
		History:    &History{},
		Behavior:   defaultBehavior(),
		Market:     defaultMarket(),
		Social:     &SocialSignals{},
		Now:        e.now(),
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	degrade := func(src Source, cause error) {
		mu.Lock()
		s.Degraded = append(s.Degraded, src)
		mu.Unlock()
		metrics.SignalFallbacksTotal.WithLabelValues(string(src)).Inc()
		logging.L(ctx).Warn("risk signal source degraded to defaults",
			"source", src, "investment", investmentID, "error", cause)
	}

	// fetch never returns an error to the group: a source failure only
	// degrades that source. fn returns an apply func that is run only when
	// the fetch completed inside its timeout, so a late source can never
	// write into s.
	fetch := func(src Source, available bool, fn func(ctx context.Context) (func(), error)) {
		if !available {
			degrade(src, errSourceUnconfigured)
			return
		}
		g.Go(func() error {
			key := "risk_source:" + string(src)
			if !e.breaker.Allow(key) {
				degrade(src, errSourceOpen)
				return nil
			}
			apply, err := withTimeout(ctx, e.sourceTimeout, fn)
			if err != nil {
				// A caller that went away says nothing about the source.
				if ctx.Err() == nil {
					e.breaker.RecordFailure(key)
				}
				degrade(src, err)
				return nil
			}
			e.breaker.RecordSuccess(key)
			apply()
			return nil
		})
	}

	fetch(SourceDocuments, e.sources.Documents != nil, func(ctx context.Context) (func(), error) {
		docs, err := e.sources.Documents.ListDocuments(ctx, borrower.ID)
		if err != nil {
			return nil, err
		}
		return func() { s.Documents = docs }, nil
	})
	fetch(SourceHistory, e.sources.History != nil, func(ctx context.Context) (func(), error) {
		h, err := e.sources.History.GetHistory(ctx, borrower.ID)
		if err != nil {
			return nil, err
		}
		if h == nil {
			h = &History{}
		}
		return func() { s.History = h }, nil
	})
	fetch(SourceBehavior, e.sources.Behavior != nil, func(ctx context.Context) (func(), error) {
		b, err := e.sources.Behavior.GetBehavioralSignals(ctx, borrower.ID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errEmptySignals
		}
		return func() { s.Behavior = b }, nil
	})
	fetch(SourceMarket, e.sources.Market != nil, func(ctx context.Context) (func(), error) {
		m, err := e.sources.Market.GetMarketSignals(ctx, inv.Purpose)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, errEmptySignals
		}
		return func() { s.Market = m }, nil
	})
	fetch(SourceSocial, e.sources.Social != nil, func(ctx context.Context) (func(), error) {
		so, err := e.sources.Social.GetSocialSignals(ctx, borrower.ID)
		if err != nil {
			return nil, err
		}
		if so == nil {
			return nil, errEmptySignals
		}
		return func() { s.Social = so }, nil
	})

	_ = g.Wait()

	sort.Slice(s.Degraded, func(i, j int) bool { return s.Degraded[i] < s.Degraded[j] })
	return s, nil
}

var (
	errSourceUnconfigured = errors.New("source not configured")
	errSourceOpen         = errors.New("source circuit open")
	errEmptySignals       = errors.New("source returned no signals")
)

// withTimeout runs fn under a deadline and stops waiting once it passes,
// even if fn ignores its context.
func withTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (func(), error)) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		apply func()
		err   error
	}
	done := make(chan result, 1)
	go func() {
		apply, err := fn(ctx)
		done <- result{apply, err}
	}()

	select {
	case r := <-done:
		return r.apply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
