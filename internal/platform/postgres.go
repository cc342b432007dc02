package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/blockvest/blockvest/internal/risk"
)

// Compile-time checks that PostgresDirectory serves every risk source.
var (
	_ risk.InvestmentSource = (*PostgresDirectory)(nil)
	_ risk.BorrowerSource   = (*PostgresDirectory)(nil)
	_ risk.DocumentSource   = (*PostgresDirectory)(nil)
	_ risk.HistorySource    = (*PostgresDirectory)(nil)
	_ risk.BehaviorSource   = (*PostgresDirectory)(nil)
	_ risk.MarketSource     = (*PostgresDirectory)(nil)
	_ risk.SocialSource     = (*PostgresDirectory)(nil)
)

// PostgresDirectory reads platform data from the tables created by
// migrations/00002_create_platform_tables.sql.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgreSQL-backed platform directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Sources returns the directory wired into every risk source slot.
func (p *PostgresDirectory) Sources() risk.Sources {
	return risk.Sources{
		Investments: p,
		Borrowers:   p,
		Documents:   p,
		History:     p,
		Behavior:    p,
		Market:      p,
		Social:      p,
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, risk.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

func (p *PostgresDirectory) GetInvestment(ctx context.Context, id string) (*risk.Investment, error) {
	inv := &risk.Investment{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, borrower_id, amount, purpose, description, duration_months, status, created_at
		FROM investments WHERE id = $1
	`, id).Scan(
		&inv.ID, &inv.BorrowerID, &inv.Amount, &inv.Purpose, &inv.Description,
		&inv.DurationMonths, &inv.Status, &inv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "investment", id)
	}
	return inv, nil
}

func (p *PostgresDirectory) GetBorrower(ctx context.Context, id string) (*risk.Borrower, error) {
	b := &risk.Borrower{}
	var income, debts decimal.NullDecimal
	err := p.db.QueryRowContext(ctx, `
		SELECT id, reputation_score, is_verified, location, monthly_income, existing_debts, joined_at
		FROM borrowers WHERE id = $1
	`, id).Scan(&b.ID, &b.ReputationScore, &b.IsVerified, &b.Location, &income, &debts, &b.JoinedAt)
	if err != nil {
		return nil, notFound(err, "borrower", id)
	}

	// Financials are only present when the borrower reported an income.
	if income.Valid {
		b.Financials = &risk.Financials{MonthlyIncome: income.Decimal}
		if debts.Valid {
			b.Financials.ExistingDebts = debts.Decimal
		}
	}
	return b, nil
}

func (p *PostgresDirectory) ListDocuments(ctx context.Context, borrowerID string) ([]risk.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, verification_status, virus_scan_status, duplicate_status, uploaded_at
		FROM documents WHERE borrower_id = $1
		ORDER BY uploaded_at DESC
	`, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []risk.Document
	for rows.Next() {
		var d risk.Document
		if err := rows.Scan(
			&d.ID, &d.Type, &d.VerificationStatus,
			&d.SecurityChecks.VirusScanStatus, &d.SecurityChecks.DuplicateStatus, &d.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetHistory returns every non-pending investment the borrower requested
// and the number of distinct investments they funded.
func (p *PostgresDirectory) GetHistory(ctx context.Context, borrowerID string) (*risk.History, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, status, amount FROM investments
		WHERE borrower_id = $1 AND status <> 'pending'
		ORDER BY id
	`, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("list borrower investments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	h := &risk.History{}
	for rows.Next() {
		var pi risk.PastInvestment
		if err := rows.Scan(&pi.ID, &pi.Status, &pi.Amount); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		h.AsBorrower = append(h.AsBorrower, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT investment_id) FROM investment_participations
		WHERE investor_id = $1
	`, borrowerID).Scan(&h.AsInvestorCount)
	if err != nil {
		return nil, fmt.Errorf("count participations: %w", err)
	}
	return h, nil
}

func (p *PostgresDirectory) GetBehavioralSignals(ctx context.Context, borrowerID string) (*risk.BehavioralSignals, error) {
	b := &risk.BehavioralSignals{}
	err := p.db.QueryRowContext(ctx, `
		SELECT login_frequency, avg_transaction_minutes, device_count, anomaly_score
		FROM behavioral_signals WHERE borrower_id = $1
	`, borrowerID).Scan(&b.LoginFrequency, &b.AvgTransactionTimeMinutes, &b.DeviceCount, &b.AnomalyScore)
	if err != nil {
		return nil, notFound(err, "behavioral signals for", borrowerID)
	}
	return b, nil
}

// GetMarketSignals prefers the purpose's own row and falls back to the
// DefaultMarket row.
func (p *PostgresDirectory) GetMarketSignals(ctx context.Context, purpose string) (*risk.MarketSignals, error) {
	m := &risk.MarketSignals{}
	err := p.db.QueryRowContext(ctx, `
		SELECT volatility_index, trend, sector_performance
		FROM market_signals WHERE purpose IN ($1, $2)
		ORDER BY purpose = $2
		LIMIT 1
	`, marketKey(purpose), DefaultMarket).Scan(&m.VolatilityIndex, &m.Trend, &m.SectorPerformance)
	if err != nil {
		return nil, notFound(err, "market signals for", purpose)
	}
	return m, nil
}

// GetSocialSignals returns an empty graph for borrowers without a row.
func (p *PostgresDirectory) GetSocialSignals(ctx context.Context, borrowerID string) (*risk.SocialSignals, error) {
	s := &risk.SocialSignals{}
	err := p.db.QueryRowContext(ctx, `
		SELECT connections, verified_connections, suspicious_connections
		FROM social_signals WHERE borrower_id = $1
	`, borrowerID).Scan(&s.Connections, &s.VerifiedConnections, &s.SuspiciousConnections)
	if errors.Is(err, sql.ErrNoRows) {
		return &risk.SocialSignals{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get social signals for %s: %w", borrowerID, err)
	}
	return s, nil
}
