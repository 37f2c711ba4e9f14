package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category names the kind of debt an obligation represents.
type Category string

const (
	CategoryLease     Category = "Lease"
	CategoryRepair    Category = "Repair"
	CategoryLoan      Category = "Loan"
	CategoryToll      Category = "Toll"
	CategoryViolation Category = "Violation"
	CategoryTax       Category = "Tax"
	CategoryMisc      Category = "Misc"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryLease, CategoryRepair, CategoryLoan, CategoryToll, CategoryViolation, CategoryTax, CategoryMisc,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsScheduled reports whether obligations of this category are repaid through generated installments.
func (c Category) IsScheduled() bool {
	return c == CategoryRepair || c == CategoryLoan
}

// ObligationStatus is the lifecycle state of an obligation.
type ObligationStatus string

const (
	ObligationStatusDraft     ObligationStatus = "Draft"
	ObligationStatusOpen      ObligationStatus = "Open"
	ObligationStatusHold      ObligationStatus = "Hold"
	ObligationStatusClosed    ObligationStatus = "Closed"
	ObligationStatusCancelled ObligationStatus = "Cancelled"
)

// StartPolicy selects which payment period the first installment falls into.
type StartPolicy string

const (
	StartPolicyCurrent StartPolicy = "Current"
	StartPolicyNext    StartPolicy = "Next"
)

// Obligation is a debt owed by a driver.
type Obligation struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	Category           Category         `json:"category" db:"category"`
	ReferenceID        string           `json:"reference_id" db:"reference_id"`
	DriverID           string           `json:"driver_id" db:"driver_id"`
	VehicleID          *string          `json:"vehicle_id,omitempty" db:"vehicle_id"`
	LeaseID            *string          `json:"lease_id,omitempty" db:"lease_id"`
	MedallionID        *string          `json:"medallion_id,omitempty" db:"medallion_id"`
	PrincipalAmount    decimal.Decimal  `json:"principal_amount" db:"principal_amount"`
	OutstandingBalance decimal.Decimal  `json:"outstanding_balance" db:"outstanding_balance"`
	Status             ObligationStatus `json:"status" db:"status"`
	StartPolicy        StartPolicy      `json:"start_policy" db:"start_policy"`
	StartDate          *time.Time       `json:"start_date,omitempty" db:"start_date"`
	Description        string           `json:"description" db:"description"`
	Version            int              `json:"version" db:"version"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// Ref is the obligation reference used in ledger idempotency keys.
func (o *Obligation) Ref() string {
	return ObligationRef(o.Category, o.ReferenceID)
}

// ObligationRef formats the reference of an obligation from its natural key.
func ObligationRef(category Category, referenceID string) string {
	return fmt.Sprintf("%s:%s", category, referenceID)
}

// DTOs for requests and responses

type CreateObligationRequest struct {
	Category        Category        `json:"category" validate:"required"`
	ReferenceID     string          `json:"reference_id" validate:"required,max=64"`
	DriverID        string          `json:"driver_id" validate:"required"`
	VehicleID       *string         `json:"vehicle_id,omitempty"`
	LeaseID         *string         `json:"lease_id,omitempty"`
	MedallionID     *string         `json:"medallion_id,omitempty"`
	PrincipalAmount decimal.Decimal `json:"principal_amount" validate:"required,decimal_gt=0,money"`
	Description     string          `json:"description"`
}

type UpdatePrincipalRequest struct {
	ObligationID    uuid.UUID       `json:"obligation_id" validate:"required"`
	PrincipalAmount decimal.Decimal `json:"principal_amount" validate:"required,decimal_gt=0,money"`
}

type ConfirmObligationRequest struct {
	ObligationID uuid.UUID   `json:"obligation_id" validate:"required"`
	StartDate    time.Time   `json:"start_date" validate:"required"`
	StartPolicy  StartPolicy `json:"start_policy" validate:"required,oneof=Current Next"`
}

type ConfirmObligationResponse struct {
	Obligation   *Obligation    `json:"obligation"`
	Installments []*Installment `json:"installments"`
}

type ObligationActionRequest struct {
	ObligationID uuid.UUID `json:"obligation_id" validate:"required"`
	Reason       string    `json:"reason"`
}

type OutstandingResponse struct {
	ObligationID uuid.UUID       `json:"obligation_id"`
	Reference    string          `json:"reference"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

type DelinquentResponse struct {
	ObligationID uuid.UUID `json:"obligation_id"`
	IsDelinquent bool      `json:"is_delinquent"`
	MissedWeeks  int       `json:"missed_weeks"`
}

// CategoryBalance is one line of a driver summary.
type CategoryBalance struct {
	Category    Category        `json:"category"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Open        int             `json:"open"`
}

type DriverSummary struct {
	DriverID         string            `json:"driver_id"`
	TotalOutstanding decimal.Decimal   `json:"total_outstanding"`
	Categories       []CategoryBalance `json:"categories"`
}
