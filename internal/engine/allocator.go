package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// DefaultHierarchy is the order in which weekly earnings settle open obligations.
var DefaultHierarchy = []domain.Category{
	domain.CategoryTax,
	domain.CategoryToll,
	domain.CategoryLease,
	domain.CategoryViolation,
	domain.CategoryRepair,
	domain.CategoryLoan,
	domain.CategoryMisc,
}

// AllocationInput carries a payment and the obligations it may touch. Balances
// must have been read under lock by the caller.
type AllocationInput struct {
	DriverID string
	Total    decimal.Decimal
	Requests []domain.AllocationRequest
	// Obligations holds every explicitly targeted obligation, keyed by domain.ObligationRef.
	Obligations map[string]*domain.Obligation
	// Overflow is the driver's current open Lease obligation, or nil.
	Overflow *domain.Obligation
}

// PlannedAllocation is one allocation line ready for posting.
type PlannedAllocation struct {
	Obligation    *domain.Obligation
	Requested     decimal.Decimal
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Overflow      bool
}

type AllocationPlan struct {
	Lines []PlannedAllocation
	// Remainder is what no obligation absorbed. Always zero for a payment plan.
	Remainder decimal.Decimal
}

// Total sums the planned amounts.
func (p *AllocationPlan) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range p.Lines {
		sum = sum.Add(line.Amount)
	}
	return sum
}

// Allocator splits payments across obligations.
type Allocator struct {
	restricted map[domain.Category]bool
}

func NewAllocator(restricted []domain.Category) *Allocator {
	set := make(map[domain.Category]bool, len(restricted))
	for _, c := range restricted {
		set[c] = true
	}
	return &Allocator{restricted: set}
}

// IsRestricted reports whether payments may never target category.
func (a *Allocator) IsRestricted(category domain.Category) bool {
	return a.restricted[category]
}

// Allocate validates the explicit lines, clamps each one to the target's
// running outstanding balance and routes whatever is left to the overflow
// Lease obligation. It mutates nothing.
func (a *Allocator) Allocate(in AllocationInput) (*AllocationPlan, error) {
	if !in.Total.IsPositive() || !utils.IsMoney(in.Total) {
		return nil, customError.WrapInvalidAmount(in.Total.String())
	}

	requested := decimal.Zero
	for _, req := range in.Requests {
		if !req.Category.Valid() {
			return nil, customError.WrapValidation(fmt.Errorf("unknown category %q", req.Category))
		}
		if a.IsRestricted(req.Category) {
			return nil, customError.WrapRestrictedCategory(string(req.Category))
		}
		if !req.Amount.IsPositive() || !utils.IsMoney(req.Amount) {
			return nil, customError.WrapInvalidAmount(req.Amount.String())
		}
		requested = requested.Add(req.Amount)
	}
	if requested.GreaterThan(in.Total) {
		return nil, customError.WrapOverAllocation(requested.StringFixed(2), in.Total.StringFixed(2))
	}

	running := make(map[string]decimal.Decimal)
	balanceOf := func(o *domain.Obligation) decimal.Decimal {
		if b, ok := running[o.Ref()]; ok {
			return b
		}
		return o.OutstandingBalance
	}

	plan := &AllocationPlan{}
	applied := decimal.Zero
	for _, req := range in.Requests {
		ref := domain.ObligationRef(req.Category, req.ReferenceID)
		o := in.Obligations[ref]
		if o == nil {
			return nil, customError.WrapObligationNotFound(ref)
		}
		if o.Status != domain.ObligationStatusOpen && o.Status != domain.ObligationStatusClosed {
			return nil, customError.WrapInvalidStateTransition("allocation to "+ref, string(o.Status), "Allocated")
		}

		before := balanceOf(o)
		amount := utils.MinDecimal(req.Amount, before)
		if !amount.IsPositive() {
			// Nothing owed: the whole line goes back to the pool.
			continue
		}
		after := before.Sub(amount)
		running[ref] = after
		applied = applied.Add(amount)
		plan.Lines = append(plan.Lines, PlannedAllocation{
			Obligation:    o,
			Requested:     req.Amount,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
		})
	}

	remainder := in.Total.Sub(applied)
	if remainder.IsPositive() {
		target := in.Overflow
		if target == nil || target.Status != domain.ObligationStatusOpen || target.Category != domain.CategoryLease {
			return nil, customError.WrapNoOverflowTarget(in.DriverID, remainder.StringFixed(2))
		}
		before := balanceOf(target)
		if before.LessThan(remainder) {
			return nil, customError.WrapNoOverflowTarget(in.DriverID, remainder.StringFixed(2))
		}
		running[target.Ref()] = before.Sub(remainder)
		plan.Lines = append(plan.Lines, PlannedAllocation{
			Obligation:    target,
			Requested:     remainder,
			Amount:        remainder,
			BalanceBefore: before,
			BalanceAfter:  before.Sub(remainder),
			Overflow:      true,
		})
	}

	plan.Remainder = decimal.Zero
	return plan, nil
}

// AllocateByHierarchy settles open obligations in hierarchy order, oldest
// first inside a category, until amount runs out. Categories missing from
// hierarchy are served last. The unspent part is returned as Remainder.
func (a *Allocator) AllocateByHierarchy(amount decimal.Decimal, obligations []*domain.Obligation, hierarchy []domain.Category) (*AllocationPlan, error) {
	if !amount.IsPositive() || !utils.IsMoney(amount) {
		return nil, customError.WrapInvalidAmount(amount.String())
	}

	rank := make(map[domain.Category]int, len(hierarchy))
	for i, c := range hierarchy {
		rank[c] = i
	}
	rankOf := func(c domain.Category) int {
		if r, ok := rank[c]; ok {
			return r
		}
		return len(hierarchy)
	}

	candidates := make([]*domain.Obligation, 0, len(obligations))
	for _, o := range obligations {
		if o.Status == domain.ObligationStatusOpen && o.OutstandingBalance.IsPositive() {
			candidates = append(candidates, o)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rankOf(candidates[i].Category), rankOf(candidates[j].Category)
		if ri != rj {
			return ri < rj
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ReferenceID < candidates[j].ReferenceID
	})

	plan := &AllocationPlan{}
	left := amount
	for _, o := range candidates {
		if !left.IsPositive() {
			break
		}
		applied := utils.MinDecimal(left, o.OutstandingBalance)
		plan.Lines = append(plan.Lines, PlannedAllocation{
			Obligation:    o,
			Requested:     applied,
			Amount:        applied,
			BalanceBefore: o.OutstandingBalance,
			BalanceAfter:  o.OutstandingBalance.Sub(applied),
		})
		left = left.Sub(applied)
	}
	plan.Remainder = left
	return plan, nil
}
