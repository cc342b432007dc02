package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// materialScoreChange is the score delta at which a reassessment is
// reported as a material change.
const materialScoreChange = 10

// Reassessment describes one scheduled reassessment outcome.
type Reassessment struct {
	InvestmentID  string  `json:"investmentId"`
	PreviousID    string  `json:"previousId"`
	CurrentID     string  `json:"currentId"`
	PreviousScore float64 `json:"previousScore"`
	CurrentScore  float64 `json:"currentScore"`
	PreviousLevel Level   `json:"previousLevel"`
	CurrentLevel  Level   `json:"currentLevel"`
}

// Material reports whether the score moved by at least 10 points or the
// level changed.
func (r Reassessment) Material() bool {
	return math.Abs(r.CurrentScore-r.PreviousScore) >= materialScoreChange ||
		r.PreviousLevel != r.CurrentLevel
}

// ReassessDue reassesses up to limit active assessments whose scheduled
// reassessment date has passed. Individual failures are logged and
// skipped; the returned slice holds the successful reassessments.
func (e *Engine) ReassessDue(ctx context.Context, limit int) ([]Reassessment, error) {
	due, err := e.store.ListDue(ctx, e.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due assessments: %w", err)
	}

	var out []Reassessment
	for _, prev := range due {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		next, err := e.Reassess(ctx, prev.InvestmentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.log(ctx).Warn("scheduled reassessment skipped, investment gone",
					"investment", prev.InvestmentID, "assessment", prev.ID)
			} else {
				e.log(ctx).Warn("scheduled reassessment failed",
					"investment", prev.InvestmentID, "assessment", prev.ID, "error", err)
			}
			continue
		}
		r := Reassessment{
			InvestmentID:  prev.InvestmentID,
			PreviousID:    prev.ID,
			CurrentID:     next.ID,
			PreviousScore: prev.OverallScore,
			CurrentScore:  next.OverallScore,
			PreviousLevel: prev.RiskLevel,
			CurrentLevel:  next.RiskLevel,
		}
		if r.Material() {
			e.log(ctx).Info("material risk change on reassessment",
				"investment", r.InvestmentID,
				"previous_score", r.PreviousScore, "current_score", r.CurrentScore,
				"previous_level", r.PreviousLevel, "current_level", r.CurrentLevel)
		}
		out = append(out, r)
	}
	return out, nil
}

// ReassessTimer periodically reassesses assessments past their scheduled date.
type ReassessTimer struct {
	engine   *Engine
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewReassessTimer creates a reassessment sweep timer.
func NewReassessTimer(engine *Engine, interval time.Duration, logger *slog.Logger) *ReassessTimer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReassessTimer{
		engine:   engine,
		interval: interval,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *ReassessTimer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *ReassessTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *ReassessTimer) sweep(ctx context.Context) {
	done, err := t.engine.ReassessDue(ctx, t.batch)
	if err != nil {
		t.logger.Warn("failed to run scheduled reassessments", "error", err)
		return
	}
	if len(done) == 0 {
		return
	}
	material := 0
	for _, r := range done {
		if r.Material() {
			material++
		}
	}
	t.logger.Info("scheduled reassessments processed", "count", len(done), "material", material)
}
