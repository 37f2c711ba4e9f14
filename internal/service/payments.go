package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
	"github.com/segyhp/fleet-billing/internal/repository"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// CreatePayment splits a payment across the requested obligations and routes
// the remainder to the driver's open lease. The whole payment is applied in one
// transaction or not at all. Replaying a payment id returns the stored result.
func (s *BillingService) CreatePayment(ctx context.Context, request *domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	// 1. Validate request
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}
	for _, line := range request.Allocations {
		if s.allocator.IsRestricted(line.Category) {
			return nil, customError.WrapRestrictedCategory(string(line.Category))
		}
	}

	// 2. Fix the payment id before retrying so every attempt shares it
	paymentID := request.PaymentID
	if paymentID == "" {
		paymentID = utils.NewPaymentID(request.PaymentDate)
	}

	var result *domain.PaymentResult
	var postings []*domain.PostingResult
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		result, postings, err = s.createPayment(ctx, paymentID, request)
		return err
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"driver_id":  request.DriverID,
			"error":      err,
		}).Warn("Payment rejected")
		return nil, storeError(err)
	}

	s.settled(result, postings)
	return result, nil
}

func (s *BillingService) createPayment(ctx context.Context, paymentID string, request *domain.CreatePaymentRequest) (*domain.PaymentResult, []*domain.PostingResult, error) {
	var result *domain.PaymentResult
	var postings []*domain.PostingResult

	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if stored, err := storedPayment(ctx, tx, paymentID); err != nil || stored != nil {
			result = stored
			return err
		}

		// Find the overflow candidate first so it is locked in the same pass as the targets.
		refs := make(map[string]struct{})
		for _, line := range request.Allocations {
			refs[domain.ObligationRef(line.Category, line.ReferenceID)] = struct{}{}
		}
		lease, err := tx.Obligations().FindOpenLease(ctx, request.DriverID, request.LeaseID)
		switch {
		case err == nil:
			refs[lease.Ref()] = struct{}{}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		locked, err := lockRefs(ctx, tx, refs)
		if err != nil {
			return err
		}
		for ref, o := range locked {
			if o.DriverID != request.DriverID {
				return customError.WrapValidation(fmt.Errorf("obligation %s belongs to another driver", ref))
			}
		}

		var overflow *domain.Obligation
		if lease != nil {
			overflow = locked[lease.Ref()]
		}

		plan, err := s.allocator.Allocate(engine.AllocationInput{
			DriverID:    request.DriverID,
			Total:       request.TotalAmount,
			Requests:    request.Allocations,
			Obligations: locked,
			Overflow:    overflow,
		})
		if err != nil {
			return err
		}

		payment := &domain.Payment{
			PaymentID:   paymentID,
			DriverID:    request.DriverID,
			MedallionID: request.MedallionID,
			LeaseID:     request.LeaseID,
			TotalAmount: request.TotalAmount,
			PaymentDate: request.PaymentDate,
			Method:      request.Method,
			Notes:       request.Notes,
		}
		postings, err = applyPlan(ctx, tx, payment, plan)
		if err != nil {
			return err
		}

		result = &domain.PaymentResult{Payment: payment, NetRemainder: decimal.Zero}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, postings, nil
}

// ApplyEarnings sweeps a driver's weekly earnings over open obligations in
// payment hierarchy order. What no obligation absorbs is reported as the net
// remainder. Replaying the same batch for the same driver is a no-op.
func (s *BillingService) ApplyEarnings(ctx context.Context, request *domain.ApplyEarningsRequest) (*domain.PaymentResult, error) {
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}
	paymentID := fmt.Sprintf("EARN-%s-%s", request.BatchID, request.DriverID)

	var result *domain.PaymentResult
	var postings []*domain.PostingResult
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Repositories) error {
			stored, err := storedPayment(ctx, tx, paymentID)
			if err != nil {
				return err
			}
			if stored != nil {
				applied := decimal.Zero
				for _, a := range stored.Payment.Allocations {
					applied = applied.Add(a.Amount)
				}
				stored.NetRemainder = stored.Payment.TotalAmount.Sub(applied)
				result = stored
				return nil
			}

			open, err := tx.Obligations().ListByDriver(ctx, request.DriverID, domain.ObligationStatusOpen)
			if err != nil {
				return err
			}
			refs := make(map[string]struct{}, len(open))
			for _, o := range open {
				refs[o.Ref()] = struct{}{}
			}
			locked, err := lockRefs(ctx, tx, refs)
			if err != nil {
				return err
			}
			candidates := make([]*domain.Obligation, 0, len(locked))
			for _, o := range locked {
				candidates = append(candidates, o)
			}

			plan, err := s.allocator.AllocateByHierarchy(request.Amount, candidates, engine.DefaultHierarchy)
			if err != nil {
				return err
			}
			if len(plan.Lines) == 0 {
				// Nothing is owed: no payment is recorded and the whole amount is the remainder.
				result = &domain.PaymentResult{NetRemainder: plan.Remainder}
				return nil
			}

			payment := &domain.Payment{
				PaymentID:   paymentID,
				DriverID:    request.DriverID,
				MedallionID: request.MedallionID,
				TotalAmount: request.Amount,
				PaymentDate: request.Date,
				Method:      domain.PaymentMethodEarnings,
				Notes:       "Earnings batch " + request.BatchID,
			}
			postings, err = applyPlan(ctx, tx, payment, plan)
			if err != nil {
				return err
			}
			result = &domain.PaymentResult{Payment: payment, NetRemainder: plan.Remainder}
			return nil
		})
	})
	if err != nil {
		return nil, storeError(err)
	}

	if result.Payment == nil {
		s.logger.WithFields(logrus.Fields{
			"batch_id":      request.BatchID,
			"driver_id":     request.DriverID,
			"net_remainder": result.NetRemainder.StringFixed(2),
		}).Info("No open obligation absorbed the earnings")
		return result, nil
	}

	s.settled(result, postings)
	return result, nil
}

// storedPayment returns the result of an already processed payment id, or nil.
func storedPayment(ctx context.Context, tx repository.Repositories, paymentID string) (*domain.PaymentResult, error) {
	existing, err := tx.Payments().GetByPaymentID(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.PaymentResult{Payment: existing, NetRemainder: decimal.Zero, Duplicate: true}, nil
}

// lockRefs locks the obligations behind refs in reference order, so that two
// payments touching the same obligations always lock them in the same order.
// Unknown references are left out; the allocator reports them.
func lockRefs(ctx context.Context, tx repository.Repositories, refs map[string]struct{}) (map[string]*domain.Obligation, error) {
	keys := make([]string, 0, len(refs))
	for ref := range refs {
		keys = append(keys, ref)
	}
	sort.Strings(keys)

	locked := make(map[string]*domain.Obligation, len(keys))
	for _, ref := range keys {
		category, referenceID, ok := splitRef(ref)
		if !ok {
			continue
		}
		o, err := tx.Obligations().GetByRefForUpdate(ctx, category, referenceID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		locked[ref] = o
	}
	return locked, nil
}

func splitRef(ref string) (domain.Category, string, bool) {
	category, referenceID, ok := strings.Cut(ref, ":")
	return domain.Category(category), referenceID, ok
}

// applyPlan stores the payment and posts every planned line as a credit allocation.
func applyPlan(ctx context.Context, tx repository.Repositories, payment *domain.Payment, plan *engine.AllocationPlan) ([]*domain.PostingResult, error) {
	if err := tx.Payments().Create(ctx, payment); err != nil {
		return nil, err
	}

	postings := make([]*domain.PostingResult, 0, len(plan.Lines))
	payment.Allocations = make([]*domain.Allocation, 0, len(plan.Lines))
	for i, line := range plan.Lines {
		o := line.Obligation
		allocationID := utils.AllocationID(payment.PaymentID, i+1)
		key := domain.PostingKey{SourceType: domain.SourceAllocation, SourceID: allocationID, ObligationRef: o.Ref()}

		posting := &domain.LedgerPosting{
			SourceType:    key.SourceType,
			SourceID:      key.SourceID,
			ObligationRef: key.ObligationRef,
			ObligationID:  o.ID,
			Category:      o.Category,
			DriverID:      o.DriverID,
			Amount:        line.Amount,
			Direction:     domain.DirectionCredit,
			PostingDate:   payment.PaymentDate,
			Description:   fmt.Sprintf("%s payment %s", payment.Method, payment.PaymentID),
		}
		res, err := record(ctx, tx, o, posting, line.Amount.Neg())
		if err != nil {
			return nil, err
		}

		allocation := &domain.Allocation{
			ID:                allocationID,
			PaymentID:         payment.PaymentID,
			Sequence:          i + 1,
			TargetCategory:    o.Category,
			TargetReferenceID: o.ReferenceID,
			ObligationID:      o.ID,
			RequestedAmount:   line.Requested,
			Amount:            line.Amount,
			BalanceBefore:     res.BalanceBefore,
			BalanceAfter:      res.BalanceAfter,
			Overflow:          line.Overflow,
			PostingID:         &posting.ID,
		}
		if err := tx.Payments().CreateAllocation(ctx, allocation); err != nil {
			return nil, err
		}
		payment.Allocations = append(payment.Allocations, allocation)
		postings = append(postings, res)
	}
	return postings, nil
}

// settled logs, counts and announces a committed payment.
func (s *BillingService) settled(result *domain.PaymentResult, postings []*domain.PostingResult) {
	if result.Duplicate {
		s.logger.WithField("payment_id", result.Payment.PaymentID).Info("Payment already processed")
		return
	}

	for _, a := range result.Payment.Allocations {
		s.metrics.Allocation(string(a.TargetCategory), a.Overflow)
	}
	for _, p := range postings {
		s.announce(p)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":    result.Payment.PaymentID,
		"driver_id":     result.Payment.DriverID,
		"total":         result.Payment.TotalAmount.StringFixed(2),
		"allocations":   len(result.Payment.Allocations),
		"net_remainder": result.NetRemainder.StringFixed(2),
	}).Info("Payment applied")
}
