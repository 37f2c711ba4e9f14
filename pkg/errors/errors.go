package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidAmount                = errors.New("invalid amount")
	ErrInvalidPaymentSchedule       = errors.New("invalid payment schedule")
	ErrRestrictedCategory           = errors.New("allocation to restricted category")
	ErrOverAllocation               = errors.New("allocations exceed payment total")
	ErrValidation                   = errors.New("validation failed")
	ErrNoVehicleFound               = errors.New("no vehicle found")
	ErrNoActiveLease                = errors.New("no active lease")
	ErrNoDriverAssigned             = errors.New("no driver assigned")
	ErrNoOverflowTarget             = errors.New("no overflow target")
	ErrObligationNotFound           = errors.New("obligation not found")
	ErrInvalidStateTransition       = errors.New("invalid state transition")
	ErrDuplicatePosting             = errors.New("duplicate posting")
	ErrDuplicateObligation          = errors.New("obligation already exists")
	ErrConcurrentUpdate             = errors.New("concurrent update")
	ErrPostingFailed                = errors.New("posting failed")
	ErrTimeout                      = errors.New("operation timed out")
	ErrClaimUnavailable             = errors.New("claim unavailable")
	ErrNotFound                     = errors.New("not found")
	ErrPostingExceedsBalance        = errors.New("posting exceeds outstanding balance")
	ErrDuplicateExternalTransaction = errors.New("external transaction already imported")
)

// Category groups error codes by how a caller should react to them.
type Category string

const (
	// CategoryValidation errors are rejected before any state change.
	CategoryValidation Category = "validation"
	// CategoryResolution errors mark the item Failed with a reason code.
	CategoryResolution Category = "resolution"
	// CategoryConflict errors are surfaced explicitly, never silently ignored.
	CategoryConflict Category = "conflict"
	// CategoryStore errors are transient and may be retried.
	CategoryStore Category = "store"
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code     string
	Category Category
	Message  string
	Err      error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code string, category Category, message string, err error) *BusinessError {
	return &BusinessError{
		Code:     code,
		Category: category,
		Message:  message,
		Err:      err,
	}
}

// Error codes
const (
	ErrCodeInvalidAmount                = "INVALID_AMOUNT"
	ErrCodeInvalidPaymentSchedule       = "INVALID_PAYMENT_SCHEDULE"
	ErrCodeRestrictedCategory           = "RESTRICTED_CATEGORY_ALLOCATION"
	ErrCodeOverAllocation               = "OVER_ALLOCATION"
	ErrCodeValidationFailed             = "VALIDATION_FAILED"
	ErrCodeNoVehicleFound               = "NO_VEHICLE_FOUND"
	ErrCodeNoActiveLease                = "NO_ACTIVE_LEASE"
	ErrCodeNoDriverAssigned             = "NO_DRIVER_ASSIGNED"
	ErrCodeNoOverflowTarget             = "NO_OVERFLOW_TARGET"
	ErrCodeObligationNotFound           = "OBLIGATION_NOT_FOUND"
	ErrCodeInvalidStateTransition       = "INVALID_STATE_TRANSITION"
	ErrCodeDuplicatePosting             = "DUPLICATE_POSTING"
	ErrCodeDuplicateObligation          = "DUPLICATE_OBLIGATION"
	ErrCodeDuplicateExternalTransaction = "DUPLICATE_EXTERNAL_TRANSACTION"
	ErrCodeConcurrentUpdate             = "CONCURRENT_UPDATE"
	ErrCodePostingFailed                = "POSTING_FAILED"
	ErrCodeTimeout                      = "TIMEOUT"
	ErrCodeClaimUnavailable             = "CLAIM_UNAVAILABLE"
	ErrCodeNotFound                     = "NOT_FOUND"
	ErrCodeDatabaseError                = "DATABASE_ERROR"
	ErrCodeCacheError                   = "CACHE_ERROR"
)

// CodeOf returns the business code carried by err, or an empty string.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// CategoryOf returns the category carried by err. Errors that are not
// business errors are treated as store failures.
func CategoryOf(err error) Category {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryStore
}

// IsRetryable reports whether a batch driver may retry the operation that produced err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	return CategoryOf(err) == CategoryStore && !errors.Is(err, ErrTimeout)
}

// Wrap common errors with business context
func WrapInvalidAmount(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAmount,
		CategoryValidation,
		fmt.Sprintf("Invalid amount: %s", amount),
		ErrInvalidAmount,
	)
}

func WrapInvalidPaymentSchedule(reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidPaymentSchedule,
		CategoryValidation,
		fmt.Sprintf("Generated schedule is inconsistent: %s", reason),
		ErrInvalidPaymentSchedule,
	)
}

func WrapRestrictedCategory(category string) *BusinessError {
	return NewBusinessError(
		ErrCodeRestrictedCategory,
		CategoryValidation,
		fmt.Sprintf("Payments cannot be allocated to restricted category %s", category),
		ErrRestrictedCategory,
	)
}

func WrapOverAllocation(allocated, total string) *BusinessError {
	return NewBusinessError(
		ErrCodeOverAllocation,
		CategoryValidation,
		fmt.Sprintf("Allocations %s exceed payment total %s", allocated, total),
		ErrOverAllocation,
	)
}

func WrapValidation(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeValidationFailed,
		CategoryValidation,
		err.Error(),
		ErrValidation,
	)
}

func WrapNoVehicleFound(plate string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoVehicleFound,
		CategoryResolution,
		fmt.Sprintf("No vehicle registered for plate %q", plate),
		ErrNoVehicleFound,
	)
}

func WrapNoActiveLease(vehicleID string, at string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoActiveLease,
		CategoryResolution,
		fmt.Sprintf("Vehicle %s had no active lease at %s", vehicleID, at),
		ErrNoActiveLease,
	)
}

func WrapNoDriverAssigned(leaseID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoDriverAssigned,
		CategoryResolution,
		fmt.Sprintf("Lease %s has no driver assigned", leaseID),
		ErrNoDriverAssigned,
	)
}

func WrapNoOverflowTarget(driverID string, remainder string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoOverflowTarget,
		CategoryResolution,
		fmt.Sprintf("No open lease obligation for driver %s can absorb %s", driverID, remainder),
		ErrNoOverflowTarget,
	)
}

func WrapObligationNotFound(reference string) *BusinessError {
	return NewBusinessError(
		ErrCodeObligationNotFound,
		CategoryValidation,
		fmt.Sprintf("Obligation %s not found", reference),
		ErrObligationNotFound,
	)
}

func WrapInvalidStateTransition(entity, from, to string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidStateTransition,
		CategoryConflict,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		ErrInvalidStateTransition,
	)
}

func WrapDuplicatePosting(key string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicatePosting,
		CategoryConflict,
		fmt.Sprintf("Posting %s already exists", key),
		ErrDuplicatePosting,
	)
}

func WrapDuplicateObligation(reference string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateObligation,
		CategoryConflict,
		fmt.Sprintf("Obligation %s already exists", reference),
		ErrDuplicateObligation,
	)
}

func WrapDuplicateExternalTransaction(externalID, period string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateExternalTransaction,
		CategoryConflict,
		fmt.Sprintf("Transaction %s for period %s is already imported", externalID, period),
		ErrDuplicateExternalTransaction,
	)
}

func WrapConcurrentUpdate(entity, id string) *BusinessError {
	return NewBusinessError(
		ErrCodeConcurrentUpdate,
		CategoryStore,
		fmt.Sprintf("%s %s was modified concurrently", entity, id),
		ErrConcurrentUpdate,
	)
}

func WrapPostingExceedsBalance(reference, amount, balance string) *BusinessError {
	return NewBusinessError(
		ErrCodePostingFailed,
		CategoryConflict,
		fmt.Sprintf("Posting %s to %s exceeds outstanding balance %s", amount, reference, balance),
		ErrPostingExceedsBalance,
	)
}

func WrapTimeout(item string) *BusinessError {
	return NewBusinessError(
		ErrCodeTimeout,
		CategoryResolution,
		fmt.Sprintf("Processing %s exceeded the item timeout", item),
		ErrTimeout,
	)
}

func WrapClaimUnavailable(key string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeClaimUnavailable,
		CategoryStore,
		fmt.Sprintf("Could not claim %s", key),
		fmt.Errorf("%w: %v", ErrClaimUnavailable, err),
	)
}

func WrapNotFound(entity, id string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		CategoryValidation,
		fmt.Sprintf("%s %s not found", entity, id),
		ErrNotFound,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		CategoryStore,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		CategoryStore,
		"Cache operation failed",
		err,
	)
}
