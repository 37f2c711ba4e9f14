package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

const installmentColumns = `id, obligation_id, sequence_no, period_start, period_end, amount_due,
	prior_balance, balance_after, status, posting_id, created_at, updated_at`

type installmentRepository struct {
	q sqlx.ExtContext
}

func (r *installmentRepository) CreateBatch(ctx context.Context, installments []*domain.Installment) error {
	query := `
		INSERT INTO installments (` + installmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	for _, inst := range installments {
		inst.PeriodStart = utc(inst.PeriodStart)
		inst.PeriodEnd = utc(inst.PeriodEnd)
		inst.CreatedAt = now
		inst.UpdatedAt = now

		_, err := exec(ctx, r.q, query,
			inst.ID, inst.ObligationID, inst.SequenceNo, inst.PeriodStart, inst.PeriodEnd, inst.AmountDue,
			inst.PriorBalance, inst.BalanceAfter, inst.Status, inst.PostingID, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %s: %w", inst.ID, err)
		}
	}
	return nil
}

func (r *installmentRepository) GetByID(ctx context.Context, id string) (*domain.Installment, error) {
	return r.get(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
}

func (r *installmentRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Installment, error) {
	return r.get(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`+forUpdate(r.q), id)
}

func (r *installmentRepository) ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE obligation_id = ? ORDER BY sequence_no`

	var installments []*domain.Installment
	if err := selectAll(ctx, r.q, &installments, query, obligationID); err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	return installments, nil
}

func (r *installmentRepository) UpdateStatus(ctx context.Context, inst *domain.Installment, from domain.InstallmentStatus) error {
	inst.UpdatedAt = time.Now().UTC()

	query := `UPDATE installments SET status = ?, posting_id = ?, updated_at = ? WHERE id = ? AND status = ?`
	rows, err := exec(ctx, r.q, query, inst.Status, inst.PostingID, inst.UpdatedAt, inst.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if rows == 0 {
		return customError.WrapConcurrentUpdate("installment", inst.ID)
	}
	return nil
}

func (r *installmentRepository) MarkDue(ctx context.Context, asOf time.Time) (int64, error) {
	query := `
		UPDATE installments SET status = ?, updated_at = ?
		WHERE status = ? AND period_start <= ?
		AND obligation_id IN (SELECT id FROM obligations WHERE status = ?)`

	rows, err := exec(ctx, r.q, query,
		domain.InstallmentStatusDue, time.Now().UTC(),
		domain.InstallmentStatusScheduled, utc(asOf),
		domain.ObligationStatusOpen,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark installments due: %w", err)
	}
	return rows, nil
}

func (r *installmentRepository) ListPostable(ctx context.Context, limit int) ([]*domain.Installment, error) {
	query := `
		SELECT i.id, i.obligation_id, i.sequence_no, i.period_start, i.period_end, i.amount_due,
			i.prior_balance, i.balance_after, i.status, i.posting_id, i.created_at, i.updated_at
		FROM installments i
		JOIN obligations o ON o.id = i.obligation_id
		WHERE i.status = ? AND o.status = ?
		ORDER BY i.period_start, i.sequence_no, i.id
		LIMIT ?`

	var installments []*domain.Installment
	if err := selectAll(ctx, r.q, &installments, query, domain.InstallmentStatusDue, domain.ObligationStatusOpen, limit); err != nil {
		return nil, fmt.Errorf("failed to list postable installments: %w", err)
	}
	return installments, nil
}

func (r *installmentRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.Installment, error) {
	var inst domain.Installment
	if err := getOne(ctx, r.q, &inst, query, args...); err != nil {
		return nil, err
	}
	return &inst, nil
}
