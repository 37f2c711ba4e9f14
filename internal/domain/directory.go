package domain

import (
	"time"
)

// Vehicle is a fleet vehicle known to the lease directory. Plate is stored normalized.
type Vehicle struct {
	ID    string `json:"id" db:"id" validate:"required,max=64"`
	Plate string `json:"plate" db:"plate" validate:"required"`
	VIN   string `json:"vin" db:"vin"`
}

// Lease binds a vehicle to drivers over [StartDate, EndDate). A nil EndDate is open-ended.
type Lease struct {
	ID          string     `json:"id" db:"id" validate:"required,max=64"`
	VehicleID   string     `json:"vehicle_id" db:"vehicle_id" validate:"required"`
	MedallionID *string    `json:"medallion_id,omitempty" db:"medallion_id"`
	StartDate   time.Time  `json:"start_date" db:"start_date" validate:"required"`
	EndDate     *time.Time `json:"end_date,omitempty" db:"end_date"`
}

// ActiveAt reports whether ts falls inside the lease window.
func (l *Lease) ActiveAt(ts time.Time) bool {
	if ts.Before(l.StartDate) {
		return false
	}
	return l.EndDate == nil || ts.Before(*l.EndDate)
}

type LeaseDriver struct {
	LeaseID   string `json:"lease_id" db:"lease_id" validate:"required"`
	DriverID  string `json:"driver_id" db:"driver_id" validate:"required"`
	IsPrimary bool   `json:"is_primary" db:"is_primary"`
	Sequence  int    `json:"sequence" db:"sequence" validate:"gte=0"`
}
