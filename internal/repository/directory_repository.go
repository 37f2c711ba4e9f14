package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

type directoryRepository struct {
	q sqlx.ExtContext
}

// VehicleByPlate returns nil without error when no vehicle carries the plate.
func (r *directoryRepository) VehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := getOne(ctx, r.q, &v, `SELECT id, plate, vin FROM vehicles WHERE plate = ?`, utils.NormalizePlate(plate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up vehicle: %w", err)
	}
	return &v, nil
}

func (r *directoryRepository) LeasesActiveAt(ctx context.Context, vehicleID string, ts time.Time) ([]*domain.Lease, error) {
	query := `
		SELECT id, vehicle_id, medallion_id, start_date, end_date FROM leases
		WHERE vehicle_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date > ?)
		ORDER BY start_date DESC, id`

	leases := []*domain.Lease{}
	at := utc(ts)
	if err := selectAll(ctx, r.q, &leases, query, vehicleID, at, at); err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	return leases, nil
}

func (r *directoryRepository) LeaseDrivers(ctx context.Context, leaseID string) ([]*domain.LeaseDriver, error) {
	query := `
		SELECT lease_id, driver_id, is_primary, sequence FROM lease_drivers
		WHERE lease_id = ? ORDER BY sequence, driver_id`

	drivers := []*domain.LeaseDriver{}
	if err := selectAll(ctx, r.q, &drivers, query, leaseID); err != nil {
		return nil, fmt.Errorf("failed to list lease drivers: %w", err)
	}
	return drivers, nil
}

func (r *directoryRepository) SaveVehicle(ctx context.Context, v *domain.Vehicle) error {
	v.Plate = utils.NormalizePlate(v.Plate)

	query := `
		INSERT INTO vehicles (id, plate, vin) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET plate = excluded.plate, vin = excluded.vin`
	if _, err := exec(ctx, r.q, query, v.ID, v.Plate, v.VIN); err != nil {
		return fmt.Errorf("failed to save vehicle: %w", err)
	}
	return nil
}

func (r *directoryRepository) SaveLease(ctx context.Context, l *domain.Lease) error {
	l.StartDate = utc(l.StartDate)
	l.EndDate = utcPtr(l.EndDate)

	query := `
		INSERT INTO leases (id, vehicle_id, medallion_id, start_date, end_date) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET vehicle_id = excluded.vehicle_id, medallion_id = excluded.medallion_id,
			start_date = excluded.start_date, end_date = excluded.end_date`
	if _, err := exec(ctx, r.q, query, l.ID, l.VehicleID, l.MedallionID, l.StartDate, l.EndDate); err != nil {
		return fmt.Errorf("failed to save lease: %w", err)
	}
	return nil
}

func (r *directoryRepository) SaveLeaseDriver(ctx context.Context, d *domain.LeaseDriver) error {
	query := `
		INSERT INTO lease_drivers (lease_id, driver_id, is_primary, sequence) VALUES (?, ?, ?, ?)
		ON CONFLICT (lease_id, driver_id) DO UPDATE SET is_primary = excluded.is_primary, sequence = excluded.sequence`
	if _, err := exec(ctx, r.q, query, d.LeaseID, d.DriverID, d.IsPrimary, d.Sequence); err != nil {
		return fmt.Errorf("failed to save lease driver: %w", err)
	}
	return nil
}
