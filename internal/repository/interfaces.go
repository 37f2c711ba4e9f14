package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/fleet-billing/internal/domain"
)

// Store gives access to the repositories, either directly or inside one transaction.
type Store interface {
	Repositories

	// WithTx runs fn inside a single transaction, committing only if fn returns nil.
	// Repositories handed to fn must be the only store access fn performs.
	WithTx(ctx context.Context, fn func(tx Repositories) error) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Obligations() ObligationRepository
	Installments() InstallmentRepository
	Transactions() TransactionRepository
	Payments() PaymentRepository
	Ledger() LedgerRepository
	Directory() DirectoryRepository
}

// ObligationRepository defines the interface for obligation data operations
type ObligationRepository interface {
	// Create creates a new obligation
	Create(ctx context.Context, obligation *domain.Obligation) error

	// GetByID retrieves an obligation by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Obligation, error)

	// GetByIDForUpdate retrieves an obligation and locks its row until the transaction ends
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Obligation, error)

	// GetByRefForUpdate retrieves and locks an obligation by category and reference
	GetByRefForUpdate(ctx context.Context, category domain.Category, referenceID string) (*domain.Obligation, error)

	// FindOpenLease returns the driver's newest open Lease obligation, preferring leaseID when given
	FindOpenLease(ctx context.Context, driverID string, leaseID *string) (*domain.Obligation, error)

	// ListByDriver lists a driver's obligations in the given statuses, oldest first
	ListByDriver(ctx context.Context, driverID string, statuses ...domain.ObligationStatus) ([]*domain.Obligation, error)

	// Update writes the obligation if its version is unchanged and bumps the version
	Update(ctx context.Context, obligation *domain.Obligation) error
}

// InstallmentRepository defines the interface for installment data operations
type InstallmentRepository interface {
	// CreateBatch inserts a whole schedule
	CreateBatch(ctx context.Context, installments []*domain.Installment) error

	// GetByID retrieves an installment
	GetByID(ctx context.Context, id string) (*domain.Installment, error)

	// GetByIDForUpdate retrieves and locks an installment
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Installment, error)

	// ListByObligation retrieves the schedule of an obligation in sequence order
	ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.Installment, error)

	// UpdateStatus writes the installment if it is still in status from
	UpdateStatus(ctx context.Context, installment *domain.Installment, from domain.InstallmentStatus) error

	// MarkDue moves Scheduled installments of open obligations whose period started by asOf to Due
	MarkDue(ctx context.Context, asOf time.Time) (int64, error)

	// ListPostable lists Due installments of open obligations, oldest period first
	ListPostable(ctx context.Context, limit int) ([]*domain.Installment, error)
}

// TransactionRepository defines the interface for external transaction data operations
type TransactionRepository interface {
	// Create inserts a new import attempt
	Create(ctx context.Context, tx *domain.ExternalTransaction) error

	// LatestAttempt returns the newest attempt for an external id and period
	LatestAttempt(ctx context.Context, externalID, period string) (*domain.ExternalTransaction, error)

	// GetByID retrieves a transaction
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExternalTransaction, error)

	// GetByIDForUpdate retrieves and locks a transaction
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ExternalTransaction, error)

	// ListByStatus lists transactions in a status, oldest event first
	ListByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]*domain.ExternalTransaction, error)

	// Update writes the transaction if it is still in status from
	Update(ctx context.Context, tx *domain.ExternalTransaction, from domain.TransactionStatus) error
}

// PaymentRepository defines the interface for payment data operations
type PaymentRepository interface {
	// Create creates a new payment record
	Create(ctx context.Context, payment *domain.Payment) error

	// CreateAllocation records one allocation line
	CreateAllocation(ctx context.Context, allocation *domain.Allocation) error

	// GetByPaymentID retrieves a payment with its allocations
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetAllocation retrieves one allocation line
	GetAllocation(ctx context.Context, id string) (*domain.Allocation, error)
}

// LedgerRepository defines the interface for the append-only ledger
type LedgerRepository interface {
	// Insert appends a posting; it returns false when the idempotency key already exists
	Insert(ctx context.Context, posting *domain.LedgerPosting) (bool, error)

	// GetByKey retrieves the posting recorded under an idempotency key
	GetByKey(ctx context.Context, key domain.PostingKey) (*domain.LedgerPosting, error)

	// GetByID retrieves a posting
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerPosting, error)

	// CountByObligation counts postings recorded against an obligation
	CountByObligation(ctx context.Context, obligationID uuid.UUID) (int, error)

	// ListByObligation lists postings of an obligation in posting order
	ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.LedgerPosting, error)
}

// DirectoryRepository reads and maintains the vehicle and lease master data
type DirectoryRepository interface {
	VehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	LeasesActiveAt(ctx context.Context, vehicleID string, ts time.Time) ([]*domain.Lease, error)
	LeaseDrivers(ctx context.Context, leaseID string) ([]*domain.LeaseDriver, error)

	// SaveVehicle inserts or updates a vehicle; the plate is normalized on write
	SaveVehicle(ctx context.Context, vehicle *domain.Vehicle) error
	// SaveLease inserts or updates a lease
	SaveLease(ctx context.Context, lease *domain.Lease) error
	// SaveLeaseDriver inserts or updates a driver assignment
	SaveLeaseDriver(ctx context.Context, driver *domain.LeaseDriver) error
}
