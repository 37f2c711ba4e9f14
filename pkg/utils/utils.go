package utils

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WeekStart returns Sunday 00:00 of the payment week containing t, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// NextWeekStart returns the Sunday 00:00 following the payment week containing t.
func NextWeekStart(t time.Time, loc *time.Location) time.Time {
	return WeekStart(t, loc).AddDate(0, 0, 7)
}

// WeekEnd returns Saturday 23:59:59 of the payment week that starts at weekStart.
// Computed from calendar days so DST shifts never move the boundary.
func WeekEnd(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 7).Add(-time.Second)
}

// IsDateOverdue checks if a date is overdue relative to now
func IsDateOverdue(dueDate time.Time, now time.Time) bool {
	return now.After(dueDate)
}

// NormalizePlate uppercases a plate or tag and strips everything that is not a letter or digit.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsMoney reports whether amount has at most two decimal places.
func IsMoney(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// InstallmentID formats the identifier of an installment, e.g. VRPR-2025-012-03.
func InstallmentID(reference string, sequence int) string {
	return fmt.Sprintf("%s-%02d", reference, sequence)
}

// AllocationID formats the identifier of an allocation line of a payment.
func AllocationID(paymentID string, sequence int) string {
	return fmt.Sprintf("%s-%02d", paymentID, sequence)
}

// NewPaymentID generates a receipt-style payment identifier such as IMP-2025-1A2B3C4D.
func NewPaymentID(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("IMP-%d-%s", at.Year(), suffix)
}

// DecimalFromString converts string to decimal.Decimal
func DecimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
