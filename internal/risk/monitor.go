package risk

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blockvest/blockvest/internal/metrics"
)

// ActiveReader returns the current active assessment for an investment.
type ActiveReader interface {
	GetActiveAssessment(ctx context.Context, investmentID string) (*Assessment, error)
}

type watch struct {
	assessmentID string
	every        time.Duration
	nextAt       time.Time
}

// Monitor is the in-process Scheduler for high-risk assessments. Each
// registered investment is re-read through GetActiveAssessment on its own
// interval; the watch is dropped once the investment is no longer high risk
// or has no active assessment.
type Monitor struct {
	reader   ActiveReader
	logger   *slog.Logger
	tick     time.Duration
	now      func() time.Time
	mu       sync.Mutex
	watches  map[string]*watch // investmentID → watch
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor that polls for due checks every minute.
func NewMonitor(reader ActiveReader, logger *slog.Logger) *Monitor {
	return &Monitor{
		reader:  reader,
		logger:  logger,
		tick:    time.Minute,
		now:     time.Now,
		watches: make(map[string]*watch),
		stop:    make(chan struct{}),
	}
}

// WithClock overrides the time source.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// WithTick overrides how often due checks are polled.
func (m *Monitor) WithTick(d time.Duration) *Monitor {
	if d > 0 {
		m.tick = d
	}
	return m
}

// ScheduleCheck registers or refreshes the watch for an investment.
func (m *Monitor) ScheduleCheck(_ context.Context, investmentID, assessmentID string, every time.Duration) error {
	if every <= 0 {
		return errors.New("monitor interval must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watches[investmentID] = &watch{
		assessmentID: assessmentID,
		every:        every,
		nextAt:       m.now().Add(every),
	}
	metrics.MonitoredAssessments.Set(float64(len(m.watches)))
	return nil
}

// Watching returns the investment IDs currently monitored, sorted.
func (m *Monitor) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start begins the monitoring loop. Call in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkDue(ctx)
		}
	}
}

// Stop signals the monitor to stop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// checkDue runs every check whose time has come and returns how many ran.
func (m *Monitor) checkDue(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	var due []string
	for id, w := range m.watches {
		if !now.Before(w.nextAt) {
			due = append(due, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(due)

	for _, id := range due {
		a, err := m.reader.GetActiveAssessment(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			m.drop(id)
			continue
		case err != nil:
			m.logger.Warn("risk monitor check failed", "investment", id, "error", err)
			m.reschedule(id, "", now)
			continue
		}

		if !a.RiskLevel.IsHigh() {
			m.logger.Info("investment left high risk, monitoring stopped",
				"investment", id, "assessment", a.ID, "level", a.RiskLevel, "score", a.OverallScore)
			m.drop(id)
			continue
		}
		m.logger.Info("high risk investment checked",
			"investment", id, "assessment", a.ID, "level", a.RiskLevel, "score", a.OverallScore)
		m.reschedule(id, a.ID, now)
	}
	return len(due)
}

func (m *Monitor) reschedule(investmentID, assessmentID string, from time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[investmentID]; ok {
		w.nextAt = from.Add(w.every)
		if assessmentID != "" {
			w.assessmentID = assessmentID
		}
	}
}

func (m *Monitor) drop(investmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, investmentID)
	metrics.MonitoredAssessments.Set(float64(len(m.watches)))
}
