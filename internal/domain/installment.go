package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InstallmentStatus string

const (
	InstallmentStatusScheduled InstallmentStatus = "Scheduled"
	InstallmentStatusDue       InstallmentStatus = "Due"
	InstallmentStatusPosted    InstallmentStatus = "Posted"
	InstallmentStatusPaid      InstallmentStatus = "Paid"
)

// Installment is one weekly slice of a scheduled obligation.
type Installment struct {
	ID           string            `json:"id" db:"id"`
	ObligationID uuid.UUID         `json:"obligation_id" db:"obligation_id"`
	SequenceNo   int               `json:"sequence_no" db:"sequence_no"`
	PeriodStart  time.Time         `json:"period_start" db:"period_start"`
	PeriodEnd    time.Time         `json:"period_end" db:"period_end"`
	AmountDue    decimal.Decimal   `json:"amount_due" db:"amount_due"`
	PriorBalance decimal.Decimal   `json:"prior_balance" db:"prior_balance"`
	BalanceAfter decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Status       InstallmentStatus `json:"status" db:"status"`
	PostingID    *uuid.UUID        `json:"posting_id,omitempty" db:"posting_id"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}
