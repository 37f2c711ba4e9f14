package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

const obligationColumns = `id, category, reference_id, driver_id, vehicle_id, lease_id, medallion_id,
	principal_amount, outstanding_balance, status, start_policy, start_date, description, version,
	created_at, updated_at`

type obligationRepository struct {
	q sqlx.ExtContext
}

func (r *obligationRepository) Create(ctx context.Context, o *domain.Obligation) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.CreatedAt = utc(o.CreatedAt)
	o.UpdatedAt = o.CreatedAt
	o.StartDate = utcPtr(o.StartDate)
	if o.Version == 0 {
		o.Version = 1
	}

	query := `
		INSERT INTO obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := exec(ctx, r.q, query,
		o.ID, o.Category, o.ReferenceID, o.DriverID, o.VehicleID, o.LeaseID, o.MedallionID,
		o.PrincipalAmount, o.OutstandingBalance, o.Status, o.StartPolicy, o.StartDate, o.Description, o.Version,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return customError.WrapDuplicateObligation(o.Ref())
		}
		return fmt.Errorf("failed to create obligation: %w", err)
	}
	return nil
}

func (r *obligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	return r.get(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
}

func (r *obligationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	return r.get(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`+forUpdate(r.q), id)
}

func (r *obligationRepository) GetByRefForUpdate(ctx context.Context, category domain.Category, referenceID string) (*domain.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE category = ? AND reference_id = ?` + forUpdate(r.q)
	return r.get(ctx, query, category, referenceID)
}

func (r *obligationRepository) FindOpenLease(ctx context.Context, driverID string, leaseID *string) (*domain.Obligation, error) {
	if leaseID != nil {
		query := `
			SELECT ` + obligationColumns + ` FROM obligations
			WHERE driver_id = ? AND category = ? AND status = ? AND lease_id = ?
			ORDER BY created_at DESC, reference_id DESC LIMIT 1`
		o, err := r.get(ctx, query, driverID, domain.CategoryLease, domain.ObligationStatusOpen, *leaseID)
		if err == nil || !errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
	}

	query := `
		SELECT ` + obligationColumns + ` FROM obligations
		WHERE driver_id = ? AND category = ? AND status = ?
		ORDER BY created_at DESC, reference_id DESC LIMIT 1`
	return r.get(ctx, query, driverID, domain.CategoryLease, domain.ObligationStatusOpen)
}

func (r *obligationRepository) ListByDriver(ctx context.Context, driverID string, statuses ...domain.ObligationStatus) ([]*domain.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE driver_id = ?`
	args := []interface{}{driverID}
	if len(statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND status IN (?)`, driverID, statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to build obligation query: %w", err)
		}
	}
	query += ` ORDER BY created_at, reference_id`

	var obligations []*domain.Obligation
	if err := selectAll(ctx, r.q, &obligations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	return obligations, nil
}

func (r *obligationRepository) Update(ctx context.Context, o *domain.Obligation) error {
	o.UpdatedAt = time.Now().UTC()
	o.StartDate = utcPtr(o.StartDate)

	query := `
		UPDATE obligations
		SET principal_amount = ?, outstanding_balance = ?, status = ?, start_policy = ?, start_date = ?,
			description = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	rows, err := exec(ctx, r.q, query,
		o.PrincipalAmount, o.OutstandingBalance, o.Status, o.StartPolicy, o.StartDate,
		o.Description, o.UpdatedAt,
		o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if rows == 0 {
		return customError.WrapConcurrentUpdate("obligation", o.ID.String())
	}
	o.Version++
	return nil
}

func (r *obligationRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.Obligation, error) {
	var o domain.Obligation
	if err := getOne(ctx, r.q, &o, query, args...); err != nil {
		return nil, err
	}
	return &o, nil
}
