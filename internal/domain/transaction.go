package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionKindToll      TransactionKind = "Toll"
	TransactionKindViolation TransactionKind = "Violation"
)

// Category returns the obligation category a posted transaction of this kind opens.
func (k TransactionKind) Category() Category {
	if k == TransactionKindViolation {
		return CategoryViolation
	}
	return CategoryToll
}

type TransactionStatus string

const (
	TransactionStatusImported   TransactionStatus = "Imported"
	TransactionStatusAssociated TransactionStatus = "Associated"
	TransactionStatusPosted     TransactionStatus = "Posted"
	TransactionStatusFailed     TransactionStatus = "Failed"
)

// Failure reason codes recorded on failed transactions.
const (
	FailureNoVehicleFound   = "NoVehicleFound"
	FailureNoActiveLease    = "NoActiveLease"
	FailureNoDriverAssigned = "NoDriverAssigned"
	FailureTimeout          = "Timeout"
	FailurePostingFailed    = "PostingFailed"
)

// ExternalTransaction is an imported toll or violation event awaiting association and posting.
type ExternalTransaction struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	ExternalID     string            `json:"external_id" db:"external_id"`
	Period         string            `json:"period" db:"billing_period"`
	Attempt        int               `json:"attempt" db:"attempt"`
	Kind           TransactionKind   `json:"kind" db:"kind"`
	PlateOrTag     string            `json:"plate_or_tag" db:"plate_or_tag"`
	EventTimestamp time.Time         `json:"event_timestamp" db:"event_timestamp"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Status         TransactionStatus `json:"status" db:"status"`
	FailureReason  *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	VehicleID      *string           `json:"vehicle_id,omitempty" db:"vehicle_id"`
	DriverID       *string           `json:"driver_id,omitempty" db:"driver_id"`
	LeaseID        *string           `json:"lease_id,omitempty" db:"lease_id"`
	MedallionID    *string           `json:"medallion_id,omitempty" db:"medallion_id"`
	ObligationID   *uuid.UUID        `json:"obligation_id,omitempty" db:"obligation_id"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// ObligationReferenceID is the reference id of the obligation a posted transaction opens.
func (t *ExternalTransaction) ObligationReferenceID() string {
	return t.ExternalID + "/" + t.Period
}

// Association is the resolved vehicle, lease, driver and medallion of a transaction.
type Association struct {
	VehicleID   string  `json:"vehicle_id"`
	LeaseID     string  `json:"lease_id"`
	DriverID    string  `json:"driver_id"`
	MedallionID *string `json:"medallion_id,omitempty"`
}

type ImportTransaction struct {
	ExternalID     string          `json:"external_id" validate:"required"`
	Period         string          `json:"period" validate:"required"`
	Kind           TransactionKind `json:"kind" validate:"required,oneof=Toll Violation"`
	PlateOrTag     string          `json:"plate_or_tag" validate:"required"`
	EventTimestamp time.Time       `json:"event_timestamp" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required,decimal_gt=0,money"`
}

type ImportTransactionsRequest struct {
	Transactions []ImportTransaction `json:"transactions" validate:"required,min=1,dive"`
}

type AssociationBatchRequest struct {
	Limit int `json:"limit" validate:"gte=0"`
}

type PostingBatchRequest struct {
	AsOf  time.Time `json:"as_of"`
	Limit int       `json:"limit" validate:"gte=0"`
}
