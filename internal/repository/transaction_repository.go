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

const transactionColumns = `id, external_id, billing_period, attempt, kind, plate_or_tag, event_timestamp,
	amount, status, failure_reason, vehicle_id, driver_id, lease_id, medallion_id, obligation_id,
	created_at, updated_at`

type transactionRepository struct {
	q sqlx.ExtContext
}

func (r *transactionRepository) Create(ctx context.Context, t *domain.ExternalTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.EventTimestamp = utc(t.EventTimestamp)
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO external_transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := exec(ctx, r.q, query,
		t.ID, t.ExternalID, t.Period, t.Attempt, t.Kind, t.PlateOrTag, t.EventTimestamp,
		t.Amount, t.Status, t.FailureReason, t.VehicleID, t.DriverID, t.LeaseID, t.MedallionID, t.ObligationID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return customError.WrapDuplicateExternalTransaction(t.ExternalID, t.Period)
		}
		return fmt.Errorf("failed to create external transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) LatestAttempt(ctx context.Context, externalID, period string) (*domain.ExternalTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM external_transactions
		WHERE external_id = ? AND billing_period = ?
		ORDER BY attempt DESC LIMIT 1`
	return r.get(ctx, query, externalID, period)
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExternalTransaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM external_transactions WHERE id = ?`, id)
}

func (r *transactionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ExternalTransaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM external_transactions WHERE id = ?`+forUpdate(r.q), id)
}

func (r *transactionRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]*domain.ExternalTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM external_transactions
		WHERE status = ?
		ORDER BY event_timestamp, external_id, attempt
		LIMIT ?`

	var txs []*domain.ExternalTransaction
	if err := selectAll(ctx, r.q, &txs, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list external transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) Update(ctx context.Context, t *domain.ExternalTransaction, from domain.TransactionStatus) error {
	t.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE external_transactions
		SET status = ?, failure_reason = ?, vehicle_id = ?, driver_id = ?, lease_id = ?, medallion_id = ?,
			obligation_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	rows, err := exec(ctx, r.q, query,
		t.Status, t.FailureReason, t.VehicleID, t.DriverID, t.LeaseID, t.MedallionID,
		t.ObligationID, t.UpdatedAt,
		t.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update external transaction: %w", err)
	}
	if rows == 0 {
		return customError.WrapConcurrentUpdate("external transaction", t.ID.String())
	}
	return nil
}

func (r *transactionRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.ExternalTransaction, error) {
	var t domain.ExternalTransaction
	if err := getOne(ctx, r.q, &t, query, args...); err != nil {
		return nil, err
	}
	return &t, nil
}
