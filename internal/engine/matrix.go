package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// Tier is one row of the payment matrix. Amounts up to and including UpTo
// pay Rate per week, or the full amount at once when PayInFull is set.
// The last tier is Unbounded.
type Tier struct {
	UpTo      decimal.Decimal
	Unbounded bool
	PayInFull bool
	Rate      decimal.Decimal
}

// DefaultTiers is the fleet's standard payment matrix.
func DefaultTiers() []Tier {
	tiers, _ := ParseTiers("200=FULL;500=100;1000=200;3000=250;*=300")
	return tiers
}

// ParseTiers reads a matrix written as "200=FULL;500=100;*=300". Bounds must
// ascend and the last entry must be the unbounded "*".
func ParseTiers(spec string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bound, rate, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("tier %q must look like BOUND=RATE", part)
		}

		var tier Tier
		bound = strings.TrimSpace(bound)
		if bound == "*" {
			tier.Unbounded = true
		} else {
			upTo, err := decimal.NewFromString(bound)
			if err != nil {
				return nil, fmt.Errorf("tier bound %q: %w", bound, err)
			}
			tier.UpTo = upTo
		}

		rate = strings.TrimSpace(rate)
		if strings.EqualFold(rate, "FULL") {
			tier.PayInFull = true
		} else {
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return nil, fmt.Errorf("tier rate %q: %w", rate, err)
			}
			tier.Rate = r
		}
		tiers = append(tiers, tier)
	}

	if err := validateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("payment matrix has no tiers")
	}
	for i, tier := range tiers {
		last := i == len(tiers)-1
		if tier.Unbounded != last {
			return fmt.Errorf("only the last tier may be unbounded")
		}
		if !tier.PayInFull && !tier.Rate.IsPositive() {
			return fmt.Errorf("tier %d rate must be positive", i+1)
		}
		if tier.Unbounded {
			continue
		}
		if !tier.UpTo.IsPositive() {
			return fmt.Errorf("tier %d bound must be positive", i+1)
		}
		if i > 0 && !tier.UpTo.GreaterThan(tiers[i-1].UpTo) {
			return fmt.Errorf("tier bounds must ascend")
		}
	}
	return nil
}

// PaymentMatrix maps a principal to its weekly installment.
type PaymentMatrix struct {
	tiers []Tier
}

func NewPaymentMatrix(tiers []Tier) (*PaymentMatrix, error) {
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}
	return &PaymentMatrix{tiers: tiers}, nil
}

// Rate returns the weekly installment for amount. Tier bounds are inclusive:
// 200.00 pays in full, 200.01 pays the next tier's rate.
func (m *PaymentMatrix) Rate(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() || !utils.IsMoney(amount) {
		return decimal.Zero, customError.WrapInvalidAmount(amount.String())
	}

	for _, tier := range m.tiers {
		if tier.Unbounded || amount.LessThanOrEqual(tier.UpTo) {
			if tier.PayInFull {
				return amount, nil
			}
			return tier.Rate, nil
		}
	}

	// unreachable: validateTiers guarantees an unbounded last tier
	return decimal.Zero, customError.WrapInvalidAmount(amount.String())
}
