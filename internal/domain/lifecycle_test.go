package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

func TestObligationTransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      ObligationStatus
		to        ObligationStatus
		balance   string
		postings  int
		expectErr bool
	}{
		{name: "draft to open", from: ObligationStatusDraft, to: ObligationStatusOpen, balance: "100.00"},
		{name: "draft to cancelled", from: ObligationStatusDraft, to: ObligationStatusCancelled, balance: "100.00"},
		{name: "open to hold", from: ObligationStatusOpen, to: ObligationStatusHold, balance: "100.00"},
		{name: "hold to open", from: ObligationStatusHold, to: ObligationStatusOpen, balance: "100.00"},
		{name: "open to closed at zero", from: ObligationStatusOpen, to: ObligationStatusClosed, balance: "0"},
		{name: "open to closed with balance", from: ObligationStatusOpen, to: ObligationStatusClosed, balance: "0.01", expectErr: true},
		{name: "hold to cancelled without postings", from: ObligationStatusHold, to: ObligationStatusCancelled, balance: "50.00"},
		{name: "hold to cancelled with postings", from: ObligationStatusHold, to: ObligationStatusCancelled, balance: "50.00", postings: 1, expectErr: true},
		{name: "open to cancelled", from: ObligationStatusOpen, to: ObligationStatusCancelled, balance: "50.00", expectErr: true},
		{name: "closed to open", from: ObligationStatusClosed, to: ObligationStatusOpen, balance: "0", expectErr: true},
		{name: "cancelled to open", from: ObligationStatusCancelled, to: ObligationStatusOpen, balance: "10.00", expectErr: true},
		{name: "hold to closed", from: ObligationStatusHold, to: ObligationStatusClosed, balance: "0", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Obligation{
				Category:           CategoryRepair,
				ReferenceID:        "VRPR-2025-001",
				Status:             tt.from,
				OutstandingBalance: decimal.RequireFromString(tt.balance),
			}

			err := o.TransitionTo(tt.to, tt.postings)

			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
				assert.Equal(t, tt.from, o.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, o.Status)
		})
	}
}

func TestInstallmentTransitionTo(t *testing.T) {
	inst := &Installment{ID: "VRPR-2025-001-01", Status: InstallmentStatusScheduled}

	assert.Error(t, inst.TransitionTo(InstallmentStatusPosted))
	require.NoError(t, inst.TransitionTo(InstallmentStatusDue))
	require.NoError(t, inst.TransitionTo(InstallmentStatusPosted))
	assert.Error(t, inst.TransitionTo(InstallmentStatusDue))
	require.NoError(t, inst.TransitionTo(InstallmentStatusPaid))
	assert.Error(t, inst.TransitionTo(InstallmentStatusScheduled))
}

func TestTransactionTransitionTo(t *testing.T) {
	t.Run("failure requires a reason", func(t *testing.T) {
		tx := &ExternalTransaction{ExternalID: "EZ-1", Status: TransactionStatusImported}
		err := tx.TransitionTo(TransactionStatusFailed, "")
		assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)

		require.NoError(t, tx.TransitionTo(TransactionStatusFailed, FailureNoVehicleFound))
		require.NotNil(t, tx.FailureReason)
		assert.Equal(t, FailureNoVehicleFound, *tx.FailureReason)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		tx := &ExternalTransaction{ExternalID: "EZ-2", Status: TransactionStatusFailed}
		assert.Error(t, tx.TransitionTo(TransactionStatusImported, ""))
		assert.Error(t, tx.TransitionTo(TransactionStatusAssociated, ""))
	})

	t.Run("happy path", func(t *testing.T) {
		tx := &ExternalTransaction{ExternalID: "EZ-3", Status: TransactionStatusImported}
		require.NoError(t, tx.TransitionTo(TransactionStatusAssociated, ""))
		require.NoError(t, tx.TransitionTo(TransactionStatusPosted, ""))
		assert.Error(t, tx.TransitionTo(TransactionStatusFailed, FailureTimeout))
	})
}

func TestBatchResultAdd(t *testing.T) {
	var r BatchResult
	r.Add(
		ItemOutcome{ItemID: "a", Status: ItemSucceeded},
		ItemOutcome{ItemID: "b", Status: ItemFailed},
		ItemOutcome{ItemID: "c", Status: ItemDuplicate},
		ItemOutcome{ItemID: "d", Status: ItemSkipped},
	)
	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Duplicates)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, "a", r.Items[0].ItemID)
}

func TestCategory(t *testing.T) {
	assert.True(t, CategoryRepair.IsScheduled())
	assert.True(t, CategoryLoan.IsScheduled())
	assert.False(t, CategoryLease.IsScheduled())
	assert.True(t, CategoryTax.Valid())
	assert.False(t, Category("Parking").Valid())
	assert.Equal(t, CategoryViolation, TransactionKindViolation.Category())
	assert.Equal(t, "Repair:VRPR-2025-001", ObligationRef(CategoryRepair, "VRPR-2025-001"))
}
