package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// Scheduler splits a principal into weekly installments aligned to Sunday-Saturday payment weeks.
type Scheduler struct {
	matrix *PaymentMatrix
	loc    *time.Location
}

func NewScheduler(matrix *PaymentMatrix, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{matrix: matrix, loc: loc}
}

// Schedule generates the installments for principal. The returned installments
// carry sequence numbers, periods, amounts and balances; identifiers and the
// owning obligation are filled in by the caller.
func (s *Scheduler) Schedule(principal decimal.Decimal, startDate time.Time, policy domain.StartPolicy) ([]*domain.Installment, error) {
	if !principal.IsPositive() {
		return nil, customError.WrapInvalidPaymentSchedule(fmt.Sprintf("principal %s is not positive", principal.StringFixed(2)))
	}

	rate, err := s.matrix.Rate(principal)
	if err != nil {
		return nil, err
	}

	var first time.Time
	switch policy {
	case domain.StartPolicyCurrent:
		first = utils.WeekStart(startDate, s.loc)
	case domain.StartPolicyNext:
		first = utils.NextWeekStart(startDate, s.loc)
	default:
		return nil, customError.WrapValidation(fmt.Errorf("unknown start policy %q", policy))
	}

	fullCount := principal.Div(rate).Floor().IntPart()
	remainder := principal.Sub(rate.Mul(decimal.NewFromInt(fullCount)))

	amounts := make([]decimal.Decimal, 0, fullCount+1)
	for i := int64(0); i < fullCount; i++ {
		amounts = append(amounts, rate)
	}
	if remainder.IsPositive() {
		amounts = append(amounts, remainder)
	}

	installments := make([]*domain.Installment, 0, len(amounts))
	balance := principal
	periodStart := first
	for i, amount := range amounts {
		after := balance.Sub(amount)
		installments = append(installments, &domain.Installment{
			SequenceNo:   i + 1,
			PeriodStart:  periodStart,
			PeriodEnd:    utils.WeekEnd(periodStart),
			AmountDue:    amount,
			PriorBalance: balance,
			BalanceAfter: after,
			Status:       domain.InstallmentStatusScheduled,
		})
		balance = after
		periodStart = periodStart.AddDate(0, 0, 7)
	}

	if err := VerifySchedule(principal, installments); err != nil {
		return nil, err
	}
	return installments, nil
}

// VerifySchedule checks that installments cover principal exactly, chain their
// balances down to zero and occupy contiguous Sunday to Saturday weeks.
func VerifySchedule(principal decimal.Decimal, installments []*domain.Installment) error {
	if len(installments) == 0 {
		return customError.WrapInvalidPaymentSchedule("no installments")
	}

	sum := decimal.Zero
	expectedPrior := principal
	for i, inst := range installments {
		if inst.SequenceNo != i+1 {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("sequence %d out of order", inst.SequenceNo))
		}
		if !inst.AmountDue.IsPositive() {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installment %d has non-positive amount", inst.SequenceNo))
		}
		if !inst.PriorBalance.Equal(expectedPrior) || !inst.BalanceAfter.Equal(inst.PriorBalance.Sub(inst.AmountDue)) {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installment %d balances do not chain", inst.SequenceNo))
		}
		if inst.PeriodStart.Weekday() != time.Sunday || inst.PeriodStart.Hour() != 0 || inst.PeriodStart.Minute() != 0 {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installment %d does not start on Sunday 00:00", inst.SequenceNo))
		}
		if !inst.PeriodEnd.Equal(utils.WeekEnd(inst.PeriodStart)) {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installment %d does not end on Saturday 23:59:59", inst.SequenceNo))
		}
		if i > 0 && !inst.PeriodStart.Equal(installments[i-1].PeriodStart.AddDate(0, 0, 7)) {
			return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installment %d is not contiguous", inst.SequenceNo))
		}
		sum = sum.Add(inst.AmountDue)
		expectedPrior = inst.BalanceAfter
	}

	if !sum.Equal(principal) {
		return customError.WrapInvalidPaymentSchedule(fmt.Sprintf("installments sum to %s, expected %s", sum.StringFixed(2), principal.StringFixed(2)))
	}
	if !expectedPrior.IsZero() {
		return customError.WrapInvalidPaymentSchedule("final balance is not zero")
	}
	return nil
}
