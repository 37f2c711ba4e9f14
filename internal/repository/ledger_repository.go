package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/fleet-billing/internal/domain"
)

const postingColumns = `id, source_type, source_id, obligation_ref, obligation_id, category, driver_id,
	amount, direction, posting_date, description, balance_before, balance_after, created_at`

type ledgerRepository struct {
	q sqlx.ExtContext
}

// Insert appends a posting. A posting whose idempotency key is already
// recorded is ignored and false is returned.
func (r *ledgerRepository) Insert(ctx context.Context, p *domain.LedgerPosting) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.PostingDate = utc(p.PostingDate)
	p.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO ledger_postings (` + postingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id, obligation_ref) DO NOTHING`

	rows, err := exec(ctx, r.q, query,
		p.ID, p.SourceType, p.SourceID, p.ObligationRef, p.ObligationID, p.Category, p.DriverID,
		p.Amount, p.Direction, p.PostingDate, p.Description, p.BalanceBefore, p.BalanceAfter, p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert posting: %w", err)
	}
	return rows == 1, nil
}

func (r *ledgerRepository) GetByKey(ctx context.Context, key domain.PostingKey) (*domain.LedgerPosting, error) {
	query := `
		SELECT ` + postingColumns + ` FROM ledger_postings
		WHERE source_type = ? AND source_id = ? AND obligation_ref = ?`
	return r.get(ctx, query, key.SourceType, key.SourceID, key.ObligationRef)
}

func (r *ledgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerPosting, error) {
	return r.get(ctx, `SELECT `+postingColumns+` FROM ledger_postings WHERE id = ?`, id)
}

func (r *ledgerRepository) CountByObligation(ctx context.Context, obligationID uuid.UUID) (int, error) {
	var n int
	if err := getOne(ctx, r.q, &n, `SELECT COUNT(*) FROM ledger_postings WHERE obligation_id = ?`, obligationID); err != nil {
		return 0, fmt.Errorf("failed to count postings: %w", err)
	}
	return n, nil
}

func (r *ledgerRepository) ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.LedgerPosting, error) {
	query := `SELECT ` + postingColumns + ` FROM ledger_postings WHERE obligation_id = ? ORDER BY created_at, id`

	postings := []*domain.LedgerPosting{}
	if err := selectAll(ctx, r.q, &postings, query, obligationID); err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	return postings, nil
}

func (r *ledgerRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.LedgerPosting, error) {
	var p domain.LedgerPosting
	if err := getOne(ctx, r.q, &p, query, args...); err != nil {
		return nil, err
	}
	return &p, nil
}
