package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blockvest/blockvest/internal/circuitbreaker"
	"github.com/blockvest/blockvest/internal/idgen"
	"github.com/blockvest/blockvest/internal/logging"
	"github.com/blockvest/blockvest/internal/metrics"
	"github.com/blockvest/blockvest/internal/retry"
	"github.com/blockvest/blockvest/internal/traces"
)

// Engine defaults.
const (
	DefaultStaleAfter      = 7 * 24 * time.Hour
	DefaultSourceTimeout   = 2 * time.Second
	DefaultMonitorInterval = time.Hour

	swapAttempts   = 5
	swapBackoff    = 10 * time.Millisecond
	breakerTrips   = 5
	breakerCooloff = 30 * time.Second
)

// Engine computes, stores, and maintains investment risk assessments.
type Engine struct {
	store     Store
	sources   Sources
	scheduler Scheduler
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
	now       func() time.Time

	staleAfter      time.Duration
	sourceTimeout   time.Duration
	monitorInterval time.Duration
}

// NewEngine creates an engine backed by store. The Investments and
// Borrowers sources are required; other sources degrade to defaults when nil.
func NewEngine(store Store, sources Sources) *Engine {
	return &Engine{
		store:           store,
		sources:         sources,
		breaker:         circuitbreaker.New(breakerTrips, breakerCooloff),
		logger:          slog.Default(),
		now:             time.Now,
		staleAfter:      DefaultStaleAfter,
		sourceTimeout:   DefaultSourceTimeout,
		monitorInterval: DefaultMonitorInterval,
	}
}

// WithScheduler registers high-risk assessments for periodic checks.
func (e *Engine) WithScheduler(s Scheduler) *Engine {
	e.scheduler = s
	return e
}

// WithLogger sets the engine's fallback logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithStaleAfter overrides the age at which an assessment is recomputed on read.
func (e *Engine) WithStaleAfter(d time.Duration) *Engine {
	if d > 0 {
		e.staleAfter = d
	}
	return e
}

// WithSourceTimeout overrides the per-source gather timeout.
func (e *Engine) WithSourceTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.sourceTimeout = d
	}
	return e
}

// WithMonitorInterval overrides how often high-risk assessments are checked.
func (e *Engine) WithMonitorInterval(d time.Duration) *Engine {
	if d > 0 {
		e.monitorInterval = d
	}
	return e
}

// WithBreaker replaces the per-source circuit breaker.
func (e *Engine) WithBreaker(b *circuitbreaker.Breaker) *Engine {
	if b != nil {
		e.breaker = b
	}
	return e
}

// Store returns the engine's assessment store.
func (e *Engine) Store() Store {
	return e.store
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.LOr(ctx, e.logger)
}

// IsStale reports whether a is older than the staleness window at now.
func (e *Engine) IsStale(a *Assessment) bool {
	return e.now().Sub(a.ComputedAt) > e.staleAfter
}

// AssessInvestment returns the investment's active assessment when it is
// still fresh, and otherwise computes and activates a new one.
func (e *Engine) AssessInvestment(ctx context.Context, investmentID string) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "risk.AssessInvestment", traces.InvestmentID(investmentID))
	defer span.End()

	a, err := e.activate(ctx, investmentID, e.fresh)
	traces.RecordError(span, err)
	annotate(span, a)
	return a, err
}

// GetActiveAssessment returns the investment's active assessment. A stale
// assessment is superseded by a fresh computation before returning.
func (e *Engine) GetActiveAssessment(ctx context.Context, investmentID string) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "risk.GetActiveAssessment", traces.InvestmentID(investmentID))
	defer span.End()

	current, err := e.store.GetActive(ctx, investmentID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	if !e.IsStale(current) {
		return current, nil
	}

	e.log(ctx).Info("risk assessment stale, recomputing",
		"investment", investmentID, "assessment", current.ID,
		"computed_at", current.ComputedAt)
	metrics.StaleRecomputesTotal.Inc()

	a, err := e.activate(ctx, investmentID, e.fresh)
	traces.RecordError(span, err)
	return a, err
}

// Reassess computes a new assessment and supersedes the active one,
// regardless of its age.
func (e *Engine) Reassess(ctx context.Context, investmentID string) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "risk.Reassess", traces.InvestmentID(investmentID))
	defer span.End()

	a, err := e.activate(ctx, investmentID, nil)
	traces.RecordError(span, err)
	annotate(span, a)
	return a, err
}

func annotate(span trace.Span, a *Assessment) {
	if a == nil {
		return
	}
	span.SetAttributes(traces.BorrowerID(a.BorrowerID), traces.RiskLevel(string(a.RiskLevel)))
}

// GetAssessment returns an assessment by ID, active or not.
func (e *Engine) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) fresh(a *Assessment) bool {
	return !e.IsStale(a)
}

// activate computes a new assessment for the investment and swaps it in as
// the active record. keep, when non-nil, is consulted against the current
// active record on every attempt; returning true keeps it instead.
//
// The swap is an optimistic compare-and-swap on the store's active index:
// Activate fails with ErrConflict if another writer changed the active
// record after it was read, and the loop re-reads and retries.
func (e *Engine) activate(ctx context.Context, investmentID string, keep func(*Assessment) bool) (*Assessment, error) {
	start := e.now()
	var (
		signals *Signals
		result  *Assessment
		kept    bool
	)

	err := retry.DoIf(ctx, swapAttempts, swapBackoff,
		func(err error) bool { return errors.Is(err, ErrConflict) },
		func() error {
			current, err := e.store.GetActive(ctx, investmentID)
			switch {
			case errors.Is(err, ErrNotFound):
				current = nil
			case err != nil:
				return retry.Permanent(fmt.Errorf("load active assessment: %w", err))
			}
			if current != nil && keep != nil && keep(current) {
				result, kept = current, true
				return nil
			}

			// Signals are gathered once; only the swap is retried.
			if signals == nil {
				if signals, err = e.gather(ctx, investmentID); err != nil {
					return retry.Permanent(err)
				}
			}

			next := Evaluate(signals)
			next.ID = idgen.WithPrefix("rsk_")
			next.IsActive = true
			expected := ""
			if current != nil {
				expected = current.ID
			}

			if err := e.store.Activate(ctx, next, expected); err != nil {
				if errors.Is(err, ErrConflict) {
					metrics.AssessmentConflictsTotal.Inc()
					e.log(ctx).Debug("risk assessment swap lost, retrying",
						"investment", investmentID, "expected_active", expected)
					return err
				}
				return retry.Permanent(fmt.Errorf("activate assessment: %w", err))
			}
			result = next
			return nil
		})
	if err != nil {
		return nil, err
	}
	if kept {
		return result, nil
	}

	metrics.AssessmentsTotal.WithLabelValues(string(result.RiskLevel)).Inc()
	metrics.AssessmentDuration.Observe(e.now().Sub(start).Seconds())
	e.log(ctx).Info("risk assessment created",
		"investment", investmentID,
		"assessment", result.ID,
		"score", result.OverallScore,
		"level", result.RiskLevel,
		"confidence", result.Confidence,
		"degraded", result.DegradedSources)

	e.scheduleMonitoring(ctx, result)
	return result.Clone(), nil
}

// scheduleMonitoring registers a recurring check for high-risk assessments.
// Registration is fire-and-forget; failures are logged only.
func (e *Engine) scheduleMonitoring(ctx context.Context, a *Assessment) {
	if e.scheduler == nil || !a.RiskLevel.IsHigh() {
		return
	}
	logger := e.log(ctx)
	ctx = context.WithoutCancel(ctx)
	investmentID, assessmentID, every := a.InvestmentID, a.ID, e.monitorInterval
	go func() {
		if err := e.scheduler.ScheduleCheck(ctx, investmentID, assessmentID, every); err != nil {
			logger.Warn("failed to schedule risk monitoring",
				"investment", investmentID, "assessment", assessmentID, "error", err)
		}
	}()
}

// OverrideFactor replaces one factor's score on an active assessment and
// recomputes the owning category, overall score, level, recommendations,
// and terms. The stored assessment is replaced by a copy with Version+1 and
// one more override record. newScore is clamped to [0, 100].
func (e *Engine) OverrideFactor(ctx context.Context, assessmentID, factorName string, newScore float64, reason, actorID string) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "risk.OverrideFactor",
		traces.AssessmentID(assessmentID), traces.Factor(factorName))
	defer span.End()

	factor, ok := ParseFactor(factorName)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrInvalidFactorReference, factorName)
		traces.RecordError(span, err)
		return nil, err
	}

	var updated *Assessment
	var original float64
	err := retry.DoIf(ctx, swapAttempts, swapBackoff,
		func(err error) bool { return errors.Is(err, ErrConflict) },
		func() error {
			current, err := e.store.Get(ctx, assessmentID)
			if err != nil {
				return retry.Permanent(err)
			}
			if !current.IsActive {
				return retry.Permanent(fmt.Errorf("%w: %s", ErrAssessmentInactive, assessmentID))
			}
			next, orig, err := applyOverride(current, factor, newScore, reason, actorID, e.now())
			if err != nil {
				return retry.Permanent(err)
			}
			if err := e.store.Update(ctx, next, current.Version); err != nil {
				if errors.Is(err, ErrConflict) {
					metrics.AssessmentConflictsTotal.Inc()
					return err
				}
				return retry.Permanent(fmt.Errorf("update assessment: %w", err))
			}
			updated, original = next, orig
			return nil
		})
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	metrics.OverridesTotal.Inc()
	logger := e.log(ctx)
	if logging.Actor(ctx) == "" {
		logger = logger.With("actor", actorID)
	}
	logger.Info("risk factor overridden",
		"assessment", assessmentID,
		"factor", factor,
		"original_score", original,
		"new_score", newScore,
		"overall", updated.OverallScore,
		"level", updated.RiskLevel)

	e.scheduleMonitoring(ctx, updated)
	return updated.Clone(), nil
}

// applyOverride returns a recomputed copy of a with factor's score replaced.
func applyOverride(a *Assessment, factor Factor, newScore float64, reason, actorID string, at time.Time) (*Assessment, float64, error) {
	next := a.Clone()
	var original float64
	found := false

	if factor.IsAdvanced() {
		for i := range next.AdvancedFactors {
			if next.AdvancedFactors[i].Name == factor {
				original = next.AdvancedFactors[i].Score
				next.AdvancedFactors[i].Score = clamp(newScore, 0, 100)
				found = true
				break
			}
		}
	} else {
	outer:
		for ci := range next.Categories {
			for fi := range next.Categories[ci].Factors {
				if next.Categories[ci].Factors[fi].Name == factor {
					original = next.Categories[ci].Factors[fi].Score
					next.Categories[ci].Factors[fi].Score = clamp(newScore, 0, 100)
					found = true
					break outer
				}
			}
		}
	}
	if !found {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidFactorReference, factor)
	}

	next.Version++
	next.ManualOverrides = append(next.ManualOverrides, Override{
		Factor:        factor,
		OriginalScore: original,
		NewScore:      newScore,
		Reason:        reason,
		OverriddenBy:  actorID,
		Timestamp:     at,
	})
	next.recompute()
	return next, original, nil
}
