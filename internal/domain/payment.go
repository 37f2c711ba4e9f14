package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "Cash"
	PaymentMethodCheck    PaymentMethod = "Check"
	PaymentMethodACH      PaymentMethod = "ACH"
	PaymentMethodCard     PaymentMethod = "Card"
	PaymentMethodEarnings PaymentMethod = "Earnings"
)

// Payment is an inbound amount split across obligations.
type Payment struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PaymentID   string          `json:"payment_id" db:"payment_id"`
	DriverID    string          `json:"driver_id" db:"driver_id"`
	MedallionID string          `json:"medallion_id" db:"medallion_id"`
	LeaseID     *string         `json:"lease_id,omitempty" db:"lease_id"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaymentDate time.Time       `json:"payment_date" db:"payment_date"`
	Method      PaymentMethod   `json:"method" db:"method"`
	Notes       string          `json:"notes" db:"notes"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`

	Allocations []*Allocation `json:"allocations" db:"-"`
}

// Allocation is one line of a payment applied to one obligation.
type Allocation struct {
	ID                string          `json:"id" db:"id"`
	PaymentID         string          `json:"payment_id" db:"payment_id"`
	Sequence          int             `json:"sequence" db:"sequence"`
	TargetCategory    Category        `json:"target_category" db:"target_category"`
	TargetReferenceID string          `json:"target_reference_id" db:"target_reference_id"`
	ObligationID      uuid.UUID       `json:"obligation_id" db:"obligation_id"`
	RequestedAmount   decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore     decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter      decimal.Decimal `json:"balance_after" db:"balance_after"`
	Overflow          bool            `json:"overflow" db:"overflow"`
	PostingID         *uuid.UUID      `json:"posting_id,omitempty" db:"posting_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// AllocationRequest is an explicit allocation line supplied by the caller.
type AllocationRequest struct {
	Category    Category        `json:"category" validate:"required"`
	ReferenceID string          `json:"reference_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required,decimal_gt=0,money"`
}

type CreatePaymentRequest struct {
	PaymentID   string              `json:"payment_id,omitempty" validate:"omitempty,max=64"`
	DriverID    string              `json:"driver_id" validate:"required"`
	MedallionID string              `json:"medallion_id" validate:"required"`
	LeaseID     *string             `json:"lease_id,omitempty"`
	TotalAmount decimal.Decimal     `json:"total_amount" validate:"required,decimal_gt=0,money"`
	PaymentDate time.Time           `json:"payment_date" validate:"required"`
	Method      PaymentMethod       `json:"method" validate:"required,oneof=Cash Check ACH Card"`
	Notes       string              `json:"notes"`
	Allocations []AllocationRequest `json:"allocations" validate:"dive"`
}

// ApplyEarningsRequest sweeps a driver's weekly earnings over open obligations by payment hierarchy.
type ApplyEarningsRequest struct {
	BatchID     string          `json:"batch_id" validate:"required,max=64"`
	DriverID    string          `json:"driver_id" validate:"required"`
	MedallionID string          `json:"medallion_id"`
	Amount      decimal.Decimal `json:"amount" validate:"required,decimal_gt=0,money"`
	Date        time.Time       `json:"date" validate:"required"`
}

type PaymentResult struct {
	// Payment is nil when an earnings sweep found nothing owed and recorded nothing.
	Payment *Payment `json:"payment,omitempty"`
	// NetRemainder is the part of an earnings sweep left after every obligation was served.
	NetRemainder decimal.Decimal `json:"net_remainder"`
	// Duplicate is set when the payment id was already processed and the stored result is returned.
	Duplicate bool `json:"duplicate"`
}
