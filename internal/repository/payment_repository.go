package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

const allocationColumns = `id, payment_id, sequence, target_category, target_reference_id, obligation_id,
	requested_amount, amount, balance_before, balance_after, overflow, posting_id, created_at`

type paymentRepository struct {
	q sqlx.ExtContext
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.PaymentDate = utc(p.PaymentDate)
	p.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO payments (id, payment_id, driver_id, medallion_id, lease_id, total_amount, payment_date, method, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := exec(ctx, r.q, query,
		p.ID, p.PaymentID, p.DriverID, p.MedallionID, p.LeaseID, p.TotalAmount, p.PaymentDate, p.Method, p.Notes, p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			// Lost a race with the same payment id; the retry returns the stored result.
			return customError.WrapConcurrentUpdate("payment", p.PaymentID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) CreateAllocation(ctx context.Context, a *domain.Allocation) error {
	a.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO allocations (` + allocationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := exec(ctx, r.q, query,
		a.ID, a.PaymentID, a.Sequence, a.TargetCategory, a.TargetReferenceID, a.ObligationID,
		a.RequestedAmount, a.Amount, a.BalanceBefore, a.BalanceAfter, a.Overflow, a.PostingID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create allocation: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	query := `
		SELECT id, payment_id, driver_id, medallion_id, lease_id, total_amount, payment_date, method, notes, created_at
		FROM payments WHERE payment_id = ?`

	var p domain.Payment
	if err := getOne(ctx, r.q, &p, query, paymentID); err != nil {
		return nil, err
	}

	allocations := []*domain.Allocation{}
	query = `SELECT ` + allocationColumns + ` FROM allocations WHERE payment_id = ? ORDER BY sequence`
	if err := selectAll(ctx, r.q, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	p.Allocations = allocations
	return &p, nil
}

func (r *paymentRepository) GetAllocation(ctx context.Context, id string) (*domain.Allocation, error) {
	var a domain.Allocation
	if err := getOne(ctx, r.q, &a, `SELECT `+allocationColumns+` FROM allocations WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}
