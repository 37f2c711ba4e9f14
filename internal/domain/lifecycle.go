package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

var obligationTransitions = map[ObligationStatus][]ObligationStatus{
	ObligationStatusDraft: {ObligationStatusOpen, ObligationStatusCancelled},
	ObligationStatusOpen:  {ObligationStatusClosed, ObligationStatusHold},
	ObligationStatusHold:  {ObligationStatusOpen, ObligationStatusCancelled},
}

var installmentTransitions = map[InstallmentStatus][]InstallmentStatus{
	InstallmentStatusScheduled: {InstallmentStatusDue},
	InstallmentStatusDue:       {InstallmentStatusPosted},
	InstallmentStatusPosted:    {InstallmentStatusPaid},
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusImported:   {TransactionStatusAssociated, TransactionStatusFailed},
	TransactionStatusAssociated: {TransactionStatusPosted, TransactionStatusFailed},
}

func allowed[S ~string](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionObligation reports whether the obligation table has an edge from -> to.
func CanTransitionObligation(from, to ObligationStatus) bool {
	return allowed(obligationTransitions, from, to)
}

// CanTransitionInstallment reports whether the installment table has an edge from -> to.
func CanTransitionInstallment(from, to InstallmentStatus) bool {
	return allowed(installmentTransitions, from, to)
}

// CanTransitionTransaction reports whether the transaction table has an edge from -> to.
func CanTransitionTransaction(from, to TransactionStatus) bool {
	return allowed(transactionTransitions, from, to)
}

// TransitionTo moves the obligation to next. postings is the number of ledger
// postings recorded against it. Closing requires a zero balance and
// cancelling requires that nothing was ever posted.
func (o *Obligation) TransitionTo(next ObligationStatus, postings int) error {
	if !CanTransitionObligation(o.Status, next) {
		return customError.WrapInvalidStateTransition("obligation "+o.Ref(), string(o.Status), string(next))
	}
	switch next {
	case ObligationStatusClosed:
		if !o.OutstandingBalance.Equal(decimal.Zero) {
			return customError.WrapInvalidStateTransition("obligation "+o.Ref()+" with balance "+o.OutstandingBalance.StringFixed(2), string(o.Status), string(next))
		}
	case ObligationStatusCancelled:
		if postings > 0 {
			return customError.WrapInvalidStateTransition("obligation "+o.Ref()+" with postings", string(o.Status), string(next))
		}
	}
	o.Status = next
	return nil
}

// TransitionTo moves the installment to next.
func (i *Installment) TransitionTo(next InstallmentStatus) error {
	if !CanTransitionInstallment(i.Status, next) {
		return customError.WrapInvalidStateTransition("installment "+i.ID, string(i.Status), string(next))
	}
	i.Status = next
	return nil
}

// TransitionTo moves the transaction to next. Failed requires a reason code.
func (t *ExternalTransaction) TransitionTo(next TransactionStatus, reason string) error {
	if !CanTransitionTransaction(t.Status, next) {
		return customError.WrapInvalidStateTransition("transaction "+t.ExternalID, string(t.Status), string(next))
	}
	if next == TransactionStatusFailed {
		if strings.TrimSpace(reason) == "" {
			return customError.WrapInvalidStateTransition("transaction "+t.ExternalID+" without reason", string(t.Status), string(next))
		}
		t.FailureReason = &reason
	}
	t.Status = next
	return nil
}
