package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SourceType string

const (
	SourceInstallment         SourceType = "Installment"
	SourceAllocation          SourceType = "Allocation"
	SourceExternalTransaction SourceType = "ExternalTransaction"
	SourceReversal            SourceType = "Reversal"
)

type Direction string

const (
	DirectionDebit  Direction = "Debit"
	DirectionCredit Direction = "Credit"
)

// Opposite returns the reversing direction.
func (d Direction) Opposite() Direction {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// PostingKey identifies a posting for idempotency.
type PostingKey struct {
	SourceType    SourceType
	SourceID      string
	ObligationRef string
}

func (k PostingKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SourceType, k.SourceID, k.ObligationRef)
}

// LedgerPosting is an immutable ledger entry.
type LedgerPosting struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	SourceType    SourceType      `json:"source_type" db:"source_type"`
	SourceID      string          `json:"source_id" db:"source_id"`
	ObligationRef string          `json:"obligation_ref" db:"obligation_ref"`
	ObligationID  uuid.UUID       `json:"obligation_id" db:"obligation_id"`
	Category      Category        `json:"category" db:"category"`
	DriverID      string          `json:"driver_id" db:"driver_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Direction     Direction       `json:"direction" db:"direction"`
	PostingDate   time.Time       `json:"posting_date" db:"posting_date"`
	Description   string          `json:"description" db:"description"`
	// BalanceBefore and BalanceAfter snapshot the obligation balance around this posting.
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

func (p *LedgerPosting) Key() PostingKey {
	return PostingKey{SourceType: p.SourceType, SourceID: p.SourceID, ObligationRef: p.ObligationRef}
}

// PostingResult reports the outcome of posting one item.
type PostingResult struct {
	Posting       *LedgerPosting  `json:"posting"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Closed        bool            `json:"closed"`
	// Duplicate is set when the key was already posted; nothing was mutated.
	Duplicate bool `json:"duplicate"`
}

// PostingEvent is published to notification collaborators after commit.
type PostingEvent struct {
	PostingID     uuid.UUID       `json:"posting_id"`
	SourceType    SourceType      `json:"source_type"`
	SourceID      string          `json:"source_id"`
	ObligationRef string          `json:"obligation_ref"`
	DriverID      string          `json:"driver_id"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     Direction       `json:"direction"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Closed        bool            `json:"closed"`
	PostedAt      time.Time       `json:"posted_at"`
}

type VoidPostingRequest struct {
	PostingID uuid.UUID `json:"posting_id" validate:"required"`
	Reason    string    `json:"reason" validate:"required"`
}
