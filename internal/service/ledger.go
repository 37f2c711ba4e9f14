package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/repository"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// findPosting returns the original result recorded under key, or nil when nothing was posted under it yet.
func findPosting(ctx context.Context, tx repository.Repositories, key domain.PostingKey) (*domain.PostingResult, error) {
	existing, err := tx.Ledger().GetByKey(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &domain.PostingResult{
		Posting:       existing,
		BalanceBefore: existing.BalanceBefore,
		BalanceAfter:  existing.BalanceAfter,
		Closed:        existing.BalanceAfter.IsZero() && existing.BalanceBefore.IsPositive(),
		Duplicate:     true,
	}, nil
}

// record appends posting and moves the locked obligation's balance by delta,
// closing it when the balance reaches zero. The caller holds the obligation lock.
func record(ctx context.Context, tx repository.Repositories, o *domain.Obligation, posting *domain.LedgerPosting, delta decimal.Decimal) (*domain.PostingResult, error) {
	before := o.OutstandingBalance
	after := before.Add(delta)
	if after.IsNegative() {
		return nil, customError.WrapPostingExceedsBalance(o.Ref(), delta.Abs().StringFixed(2), before.StringFixed(2))
	}
	if after.GreaterThan(o.PrincipalAmount) {
		return nil, customError.WrapPostingExceedsBalance(o.Ref(), delta.Abs().StringFixed(2), before.StringFixed(2))
	}

	posting.BalanceBefore = before
	posting.BalanceAfter = after
	inserted, err := tx.Ledger().Insert(ctx, posting)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Someone else posted the same key after our lookup; the retry will find it.
		return nil, customError.WrapConcurrentUpdate("posting", posting.Key().String())
	}

	o.OutstandingBalance = after
	closed := false
	if after.IsZero() && o.Status == domain.ObligationStatusOpen {
		if err := o.TransitionTo(domain.ObligationStatusClosed, 0); err != nil {
			return nil, err
		}
		closed = true
	}
	if err := tx.Obligations().Update(ctx, o); err != nil {
		return nil, err
	}

	return &domain.PostingResult{
		Posting:       posting,
		BalanceBefore: before,
		BalanceAfter:  after,
		Closed:        closed,
	}, nil
}

// PostInstallment posts one Due installment to the ledger. Posting the same
// installment twice returns the original result flagged as a duplicate.
func (s *BillingService) PostInstallment(ctx context.Context, installmentID string, postingDate time.Time) (*domain.PostingResult, error) {
	var result *domain.PostingResult
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.postInstallment(ctx, installmentID, postingDate)
		return err
	})
	if err != nil {
		s.metrics.Posting(string(domain.SourceInstallment), "failed")
		return nil, storeError(err)
	}
	s.announce(result)
	return result, nil
}

func (s *BillingService) postInstallment(ctx context.Context, installmentID string, postingDate time.Time) (*domain.PostingResult, error) {
	var result *domain.PostingResult
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		// 1. Find the owning obligation, then lock obligation before installment
		inst, err := tx.Installments().GetByID(ctx, installmentID)
		if errors.Is(err, sql.ErrNoRows) {
			return customError.WrapNotFound("installment", installmentID)
		}
		if err != nil {
			return err
		}
		o, err := lockObligation(ctx, tx, inst.ObligationID)
		if err != nil {
			return err
		}
		inst, err = tx.Installments().GetByIDForUpdate(ctx, installmentID)
		if err != nil {
			return err
		}

		// 2. Idempotency check
		key := domain.PostingKey{SourceType: domain.SourceInstallment, SourceID: inst.ID, ObligationRef: o.Ref()}
		if result, err = findPosting(ctx, tx, key); err != nil || result != nil {
			return err
		}

		// 3. Pre-state
		if o.Status != domain.ObligationStatusOpen {
			return customError.WrapInvalidStateTransition("installment posting to obligation "+o.Ref(), string(o.Status), "Posted")
		}
		from := inst.Status
		if err := inst.TransitionTo(domain.InstallmentStatusPosted); err != nil {
			return err
		}

		// 4. Charge the weekly slice, never more than is still owed
		amount := utils.MinDecimal(inst.AmountDue, o.OutstandingBalance)
		posting := &domain.LedgerPosting{
			SourceType:    key.SourceType,
			SourceID:      key.SourceID,
			ObligationRef: key.ObligationRef,
			ObligationID:  o.ID,
			Category:      o.Category,
			DriverID:      o.DriverID,
			Amount:        amount,
			Direction:     domain.DirectionDebit,
			PostingDate:   postingDate,
			Description:   fmt.Sprintf("Installment %d of %s", inst.SequenceNo, o.Ref()),
		}
		if result, err = record(ctx, tx, o, posting, amount.Neg()); err != nil {
			return err
		}

		// 5. Mark the installment posted
		inst.PostingID = &posting.ID
		return tx.Installments().UpdateStatus(ctx, inst, from)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostExternalTransaction posts an Associated toll or violation. Posting opens
// a Toll or Violation obligation for the associated driver carrying the amount.
func (s *BillingService) PostExternalTransaction(ctx context.Context, id uuid.UUID, postingDate time.Time) (*domain.PostingResult, error) {
	var result *domain.PostingResult
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.postExternalTransaction(ctx, id, postingDate)
		return err
	})
	if err != nil {
		s.metrics.Posting(string(domain.SourceExternalTransaction), "failed")
		return nil, storeError(err)
	}
	s.announce(result)
	return result, nil
}

func (s *BillingService) postExternalTransaction(ctx context.Context, id uuid.UUID, postingDate time.Time) (*domain.PostingResult, error) {
	var result *domain.PostingResult
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := tx.Transactions().GetByIDForUpdate(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return customError.WrapNotFound("external transaction", id.String())
		}
		if err != nil {
			return err
		}

		category := t.Kind.Category()
		reference := t.ObligationReferenceID()
		key := domain.PostingKey{
			SourceType:    domain.SourceExternalTransaction,
			SourceID:      t.ID.String(),
			ObligationRef: domain.ObligationRef(category, reference),
		}

		existing, err := tx.Obligations().GetByRefForUpdate(ctx, category, reference)
		switch {
		case err == nil:
			if result, err = findPosting(ctx, tx, key); err != nil || result != nil {
				return err
			}
			return customError.WrapDuplicateObligation(existing.Ref())
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if t.Status != domain.TransactionStatusAssociated || t.DriverID == nil {
			return customError.WrapInvalidStateTransition("transaction "+t.ExternalID, string(t.Status), string(domain.TransactionStatusPosted))
		}

		// Open the obligation the transaction originates.
		o := &domain.Obligation{
			Category:           category,
			ReferenceID:        reference,
			DriverID:           *t.DriverID,
			VehicleID:          t.VehicleID,
			LeaseID:            t.LeaseID,
			MedallionID:        t.MedallionID,
			PrincipalAmount:    t.Amount,
			OutstandingBalance: t.Amount,
			Status:             domain.ObligationStatusOpen,
			StartPolicy:        domain.StartPolicyCurrent,
			StartDate:          &t.EventTimestamp,
			Description:        fmt.Sprintf("%s %s on %s", t.Kind, t.ExternalID, t.PlateOrTag),
			CreatedAt:          s.now(),
		}
		if err := tx.Obligations().Create(ctx, o); err != nil {
			return err
		}

		posting := &domain.LedgerPosting{
			SourceType:    key.SourceType,
			SourceID:      key.SourceID,
			ObligationRef: key.ObligationRef,
			ObligationID:  o.ID,
			Category:      category,
			DriverID:      o.DriverID,
			Amount:        t.Amount,
			Direction:     domain.DirectionDebit,
			PostingDate:   postingDate,
			Description:   o.Description,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  o.OutstandingBalance,
		}
		inserted, err := tx.Ledger().Insert(ctx, posting)
		if err != nil {
			return err
		}
		if !inserted {
			return customError.WrapConcurrentUpdate("posting", key.String())
		}

		if err := t.TransitionTo(domain.TransactionStatusPosted, ""); err != nil {
			return err
		}
		t.ObligationID = &o.ID
		if err := tx.Transactions().Update(ctx, t, domain.TransactionStatusAssociated); err != nil {
			return err
		}

		result = &domain.PostingResult{
			Posting:       posting,
			BalanceBefore: posting.BalanceBefore,
			BalanceAfter:  posting.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VoidPosting reverses a payment allocation by appending an opposite posting
// and restoring the obligation balance. The original posting is left untouched.
func (s *BillingService) VoidPosting(ctx context.Context, request *domain.VoidPostingRequest) (*domain.PostingResult, error) {
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	var result *domain.PostingResult
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Repositories) error {
			original, err := tx.Ledger().GetByID(ctx, request.PostingID)
			if errors.Is(err, sql.ErrNoRows) {
				return customError.WrapNotFound("posting", request.PostingID.String())
			}
			if err != nil {
				return err
			}
			if original.SourceType != domain.SourceAllocation {
				return customError.WrapInvalidStateTransition("posting "+original.ID.String(), string(original.SourceType), "Reversed")
			}

			o, err := lockObligation(ctx, tx, original.ObligationID)
			if err != nil {
				return err
			}

			key := domain.PostingKey{SourceType: domain.SourceReversal, SourceID: original.ID.String(), ObligationRef: original.ObligationRef}
			if result, err = findPosting(ctx, tx, key); err != nil || result != nil {
				return err
			}

			if o.Status != domain.ObligationStatusOpen && o.Status != domain.ObligationStatusHold {
				return customError.WrapInvalidStateTransition("reversal on obligation "+o.Ref(), string(o.Status), "Reversed")
			}

			reversal := &domain.LedgerPosting{
				SourceType:    key.SourceType,
				SourceID:      key.SourceID,
				ObligationRef: key.ObligationRef,
				ObligationID:  o.ID,
				Category:      o.Category,
				DriverID:      o.DriverID,
				Amount:        original.Amount,
				Direction:     original.Direction.Opposite(),
				PostingDate:   s.now(),
				Description:   request.Reason,
			}
			result, err = record(ctx, tx, o, reversal, original.Amount)
			return err
		})
	})
	if err != nil {
		return nil, storeError(err)
	}

	if !result.Duplicate {
		s.logger.WithFields(logrus.Fields{
			"posting_id": request.PostingID,
			"reversal":   result.Posting.ID,
			"reason":     request.Reason,
		}).Info("Posting voided")
	}
	s.announce(result)
	return result, nil
}

// ReconcileInstallment marks a Posted installment Paid once the external reconciliation signal arrives.
func (s *BillingService) ReconcileInstallment(ctx context.Context, installmentID string) (*domain.Installment, error) {
	var installment *domain.Installment
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		inst, err := tx.Installments().GetByIDForUpdate(ctx, installmentID)
		if errors.Is(err, sql.ErrNoRows) {
			return customError.WrapNotFound("installment", installmentID)
		}
		if err != nil {
			return err
		}
		from := inst.Status
		if err := inst.TransitionTo(domain.InstallmentStatusPaid); err != nil {
			return err
		}
		if err := tx.Installments().UpdateStatus(ctx, inst, from); err != nil {
			return err
		}
		installment = inst
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return installment, nil
}

// announce counts a committed posting and hands it to the notification collaborator.
func (s *BillingService) announce(result *domain.PostingResult) {
	if result == nil || result.Posting == nil {
		return
	}
	p := result.Posting
	if result.Duplicate {
		s.metrics.Posting(string(p.SourceType), "duplicate")
		return
	}
	s.metrics.Posting(string(p.SourceType), "posted")

	s.publisher.Publish(domain.PostingEvent{
		PostingID:     p.ID,
		SourceType:    p.SourceType,
		SourceID:      p.SourceID,
		ObligationRef: p.ObligationRef,
		DriverID:      p.DriverID,
		Amount:        p.Amount,
		Direction:     p.Direction,
		BalanceAfter:  result.BalanceAfter,
		Closed:        result.Closed,
		PostedAt:      p.CreatedAt,
	})
}
