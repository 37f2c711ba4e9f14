package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// plateInvalidator is implemented by directory caches that must forget a plate after it changes.
type plateInvalidator interface {
	Invalidate(ctx context.Context, plate string) error
}

// SaveVehicle inserts or updates a vehicle of the lease directory.
func (s *BillingService) SaveVehicle(ctx context.Context, vehicle *domain.Vehicle) (*domain.Vehicle, error) {
	if err := s.validateRequest(vehicle); err != nil {
		return nil, err
	}
	vehicle.Plate = utils.NormalizePlate(vehicle.Plate)

	if err := s.store.Directory().SaveVehicle(ctx, vehicle); err != nil {
		return nil, storeError(err)
	}
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, vehicle.Plate); err != nil {
			s.logger.WithError(err).WithField("plate", vehicle.Plate).Warn("Failed to invalidate vehicle cache")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicle.ID,
		"plate":      vehicle.Plate,
	}).Info("Vehicle saved")
	return vehicle, nil
}

// SaveLease inserts or updates a lease window.
func (s *BillingService) SaveLease(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	if err := s.validateRequest(lease); err != nil {
		return nil, err
	}
	if err := s.store.Directory().SaveLease(ctx, lease); err != nil {
		return nil, storeError(err)
	}
	s.logger.WithFields(logrus.Fields{
		"lease_id":   lease.ID,
		"vehicle_id": lease.VehicleID,
	}).Info("Lease saved")
	return lease, nil
}

func (s *BillingService) SaveLeaseDriver(ctx context.Context, driver *domain.LeaseDriver) (*domain.LeaseDriver, error) {
	if err := s.validateRequest(driver); err != nil {
		return nil, err
	}
	if err := s.store.Directory().SaveLeaseDriver(ctx, driver); err != nil {
		return nil, storeError(err)
	}
	return driver, nil
}
