package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/fleet-billing/internal/domain"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) VehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	args := m.Called(ctx, plate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Vehicle), args.Error(1)
}

func (m *MockDirectory) LeasesActiveAt(ctx context.Context, vehicleID string, ts time.Time) ([]*domain.Lease, error) {
	args := m.Called(ctx, vehicleID, ts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Lease), args.Error(1)
}

func (m *MockDirectory) LeaseDrivers(ctx context.Context, leaseID string) ([]*domain.LeaseDriver, error) {
	args := m.Called(ctx, leaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LeaseDriver), args.Error(1)
}
