package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists assessments in PostgreSQL. The single-active
// invariant is enforced twice: Activate locks the current active row, and a
// partial unique index rejects a second active row for the same investment.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS risk_assessments (
		id                  VARCHAR(36) PRIMARY KEY,
		investment_id       VARCHAR(64) NOT NULL,
		borrower_id         VARCHAR(64) NOT NULL,
		version             INTEGER NOT NULL DEFAULT 1,
		overall_score       NUMERIC(5,2) NOT NULL CHECK (overall_score >= 0 AND overall_score <= 100),
		risk_level          VARCHAR(16) NOT NULL,
		confidence          NUMERIC(4,3) NOT NULL,
		is_active           BOOLEAN NOT NULL DEFAULT TRUE,
		computed_at         TIMESTAMPTZ NOT NULL,
		next_assessment_at  TIMESTAMPTZ NOT NULL,
		body                JSONB NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_risk_assessments_one_active
		ON risk_assessments (investment_id) WHERE is_active;

	CREATE INDEX IF NOT EXISTS idx_risk_assessments_borrower
		ON risk_assessments (borrower_id, computed_at DESC);

	CREATE INDEX IF NOT EXISTS idx_risk_assessments_due
		ON risk_assessments (next_assessment_at) WHERE is_active;
`

const assessmentColumns = `body, is_active, version`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Assessment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments WHERE id = $1
	`, id)
	return scanAssessment(row)
}

func (p *PostgresStore) GetActive(ctx context.Context, investmentID string) (*Assessment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments
		WHERE investment_id = $1 AND is_active
	`, investmentID)
	return scanAssessment(row)
}

func (p *PostgresStore) Activate(ctx context.Context, next *Assessment, expectedActiveID string) error {
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM risk_assessments
		WHERE investment_id = $1 AND is_active
		FOR UPDATE
	`, next.InvestmentID).Scan(&currentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock active assessment: %w", err)
	}
	if currentID != expectedActiveID {
		return ErrConflict
	}

	if currentID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE risk_assessments
			SET is_active = FALSE,
			    body = jsonb_set(body, '{isActive}', 'false'),
			    updated_at = NOW()
			WHERE id = $1
		`, currentID); err != nil {
			return fmt.Errorf("deactivate assessment: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, investment_id, borrower_id, version, overall_score, risk_level,
			confidence, is_active, computed_at, next_assessment_at, body
		) VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)
	`,
		next.ID, next.InvestmentID, next.BorrowerID, next.Version,
		next.OverallScore, string(next.RiskLevel), next.Confidence,
		next.ComputedAt, next.NextAssessmentAt, body,
	)
	if err != nil {
		// Two first-time activations race past FOR UPDATE when no row exists;
		// the partial unique index rejects the loser.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert assessment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, a *Assessment, expectedVersion int) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE risk_assessments
		SET version = $2, overall_score = $3, risk_level = $4, confidence = $5,
		    next_assessment_at = $6, body = $7, updated_at = NOW()
		WHERE id = $1 AND version = $8 AND is_active
	`,
		a.ID, a.Version, a.OverallScore, string(a.RiskLevel), a.Confidence,
		a.NextAssessmentAt, body, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM risk_assessments WHERE id = $1)`, a.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check assessment: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *PostgresStore) ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*Assessment, error) {
	return p.query(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments
		WHERE borrower_id = $1
		ORDER BY computed_at DESC, id DESC
		LIMIT $2
	`, borrowerID, sqlLimit(limit))
}

func (p *PostgresStore) ListActive(ctx context.Context, since time.Time, limit int) ([]*Assessment, error) {
	return p.query(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments
		WHERE is_active AND computed_at >= $1
		ORDER BY computed_at DESC, id DESC
		LIMIT $2
	`, since, sqlLimit(limit))
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Assessment, error) {
	return p.query(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments
		WHERE is_active AND next_assessment_at <= $1
		ORDER BY next_assessment_at ASC, id ASC
		LIMIT $2
	`, before, sqlLimit(limit))
}

// sqlLimit maps a non-positive limit to NULL, which Postgres treats as no limit.
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Assessment, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...any) error
}

// scanAssessment decodes the JSON body and lets the indexed columns win
// over the body for fields the store mutates in place.
func scanAssessment(row scannable) (*Assessment, error) {
	var (
		body     []byte
		isActive bool
		version  int
	)
	if err := row.Scan(&body, &isActive, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}
	var a Assessment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	a.IsActive = isActive
	a.Version = version
	return &a, nil
}
