package engine

import (
	"context"
	"sort"
	"time"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// Directory is the read-only vehicle and lease directory.
type Directory interface {
	// VehicleByPlate returns nil, nil when no vehicle carries the normalized plate
	VehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	// LeasesActiveAt returns every lease of the vehicle whose window contains ts
	LeasesActiveAt(ctx context.Context, vehicleID string, ts time.Time) ([]*domain.Lease, error)
	// LeaseDrivers returns the drivers assigned to a lease
	LeaseDrivers(ctx context.Context, leaseID string) ([]*domain.LeaseDriver, error)
}

// Associator resolves an external transaction to the vehicle, lease and driver
// responsible at the moment of the event.
type Associator struct {
	dir Directory
}

func NewAssociator(dir Directory) *Associator {
	return &Associator{dir: dir}
}

// Associate performs the resolution. Resolution failures are business errors
// whose code maps to the transaction failure reason via FailureReason.
func (a *Associator) Associate(ctx context.Context, tx *domain.ExternalTransaction) (*domain.Association, error) {
	plate := utils.NormalizePlate(tx.PlateOrTag)
	if plate == "" {
		return nil, customError.WrapNoVehicleFound(tx.PlateOrTag)
	}

	vehicle, err := a.dir.VehicleByPlate(ctx, plate)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		return nil, customError.WrapNoVehicleFound(plate)
	}

	leases, err := a.dir.LeasesActiveAt(ctx, vehicle.ID, tx.EventTimestamp)
	if err != nil {
		return nil, err
	}
	lease := latestActiveLease(leases, tx.EventTimestamp)
	if lease == nil {
		return nil, customError.WrapNoActiveLease(vehicle.ID, tx.EventTimestamp.Format(time.RFC3339))
	}

	drivers, err := a.dir.LeaseDrivers(ctx, lease.ID)
	if err != nil {
		return nil, err
	}
	driver := primaryDriver(drivers)
	if driver == nil {
		return nil, customError.WrapNoDriverAssigned(lease.ID)
	}

	return &domain.Association{
		VehicleID:   vehicle.ID,
		LeaseID:     lease.ID,
		DriverID:    driver.DriverID,
		MedallionID: lease.MedallionID,
	}, nil
}

// latestActiveLease picks, among leases containing ts, the one that started last.
func latestActiveLease(leases []*domain.Lease, ts time.Time) *domain.Lease {
	var best *domain.Lease
	for _, lease := range leases {
		if !lease.ActiveAt(ts) {
			continue
		}
		if best == nil || lease.StartDate.After(best.StartDate) {
			best = lease
		}
	}
	return best
}

// primaryDriver prefers the flagged primary driver, then the lowest sequence.
func primaryDriver(drivers []*domain.LeaseDriver) *domain.LeaseDriver {
	if len(drivers) == 0 {
		return nil
	}
	sorted := make([]*domain.LeaseDriver, len(drivers))
	copy(sorted, drivers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsPrimary != sorted[j].IsPrimary {
			return sorted[i].IsPrimary
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return sorted[0]
}

// FailureReason maps a resolution error to the reason code stored on a failed transaction.
func FailureReason(err error) string {
	switch customError.CodeOf(err) {
	case customError.ErrCodeNoVehicleFound:
		return domain.FailureNoVehicleFound
	case customError.ErrCodeNoActiveLease:
		return domain.FailureNoActiveLease
	case customError.ErrCodeNoDriverAssigned:
		return domain.FailureNoDriverAssigned
	case customError.ErrCodeTimeout:
		return domain.FailureTimeout
	default:
		return domain.FailurePostingFailed
	}
}
