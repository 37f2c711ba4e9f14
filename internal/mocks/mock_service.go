package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/fleet-billing/internal/domain"
)

type MockBillingService struct {
	mock.Mock
}

// NewMockBillingService creates a new mock billing service instance
func NewMockBillingService() *MockBillingService {
	return &MockBillingService{}
}

func (m *MockBillingService) obligation(args mock.Arguments) (*domain.Obligation, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Obligation), args.Error(1)
}

func (m *MockBillingService) posting(args mock.Arguments) (*domain.PostingResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PostingResult), args.Error(1)
}

func (m *MockBillingService) payment(args mock.Arguments) (*domain.PaymentResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentResult), args.Error(1)
}

func (m *MockBillingService) batch(args mock.Arguments) (*domain.BatchResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchResult), args.Error(1)
}

func (m *MockBillingService) CreateObligation(ctx context.Context, request *domain.CreateObligationRequest) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, request))
}

func (m *MockBillingService) UpdateObligationPrincipal(ctx context.Context, request *domain.UpdatePrincipalRequest) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, request))
}

func (m *MockBillingService) ConfirmObligation(ctx context.Context, request *domain.ConfirmObligationRequest) (*domain.ConfirmObligationResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConfirmObligationResponse), args.Error(1)
}

func (m *MockBillingService) HoldObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, request))
}

func (m *MockBillingService) ResumeObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, request))
}

func (m *MockBillingService) CancelObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, request))
}

func (m *MockBillingService) GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	return m.obligation(m.Called(ctx, id))
}

func (m *MockBillingService) GetSchedule(ctx context.Context, id uuid.UUID) ([]*domain.Installment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

func (m *MockBillingService) GetPostings(ctx context.Context, id uuid.UUID) ([]*domain.LedgerPosting, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LedgerPosting), args.Error(1)
}

func (m *MockBillingService) GetOutstanding(ctx context.Context, id uuid.UUID) (*domain.OutstandingResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutstandingResponse), args.Error(1)
}

func (m *MockBillingService) IsDelinquent(ctx context.Context, id uuid.UUID, asOf time.Time) (*domain.DelinquentResponse, error) {
	args := m.Called(ctx, id, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DelinquentResponse), args.Error(1)
}

func (m *MockBillingService) GetDriverSummary(ctx context.Context, driverID string) (*domain.DriverSummary, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DriverSummary), args.Error(1)
}

func (m *MockBillingService) CreatePayment(ctx context.Context, request *domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	return m.payment(m.Called(ctx, request))
}

func (m *MockBillingService) ApplyEarnings(ctx context.Context, request *domain.ApplyEarningsRequest) (*domain.PaymentResult, error) {
	return m.payment(m.Called(ctx, request))
}

func (m *MockBillingService) VoidPosting(ctx context.Context, request *domain.VoidPostingRequest) (*domain.PostingResult, error) {
	return m.posting(m.Called(ctx, request))
}

func (m *MockBillingService) PostInstallment(ctx context.Context, installmentID string, postingDate time.Time) (*domain.PostingResult, error) {
	return m.posting(m.Called(ctx, installmentID, postingDate))
}

func (m *MockBillingService) ReconcileInstallment(ctx context.Context, installmentID string) (*domain.Installment, error) {
	args := m.Called(ctx, installmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Installment), args.Error(1)
}

func (m *MockBillingService) PostExternalTransaction(ctx context.Context, id uuid.UUID, postingDate time.Time) (*domain.PostingResult, error) {
	return m.posting(m.Called(ctx, id, postingDate))
}

func (m *MockBillingService) ImportTransactions(ctx context.Context, request *domain.ImportTransactionsRequest) (*domain.BatchResult, error) {
	return m.batch(m.Called(ctx, request))
}

func (m *MockBillingService) RunAssociationBatch(ctx context.Context, request *domain.AssociationBatchRequest) (*domain.BatchResult, error) {
	return m.batch(m.Called(ctx, request))
}

func (m *MockBillingService) RunPostingBatch(ctx context.Context, request *domain.PostingBatchRequest) (*domain.BatchResult, error) {
	return m.batch(m.Called(ctx, request))
}

func (m *MockBillingService) MarkDueInstallments(ctx context.Context, asOf time.Time) (int64, error) {
	args := m.Called(ctx, asOf)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBillingService) SaveVehicle(ctx context.Context, vehicle *domain.Vehicle) (*domain.Vehicle, error) {
	args := m.Called(ctx, vehicle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Vehicle), args.Error(1)
}

func (m *MockBillingService) SaveLease(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	args := m.Called(ctx, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Lease), args.Error(1)
}

func (m *MockBillingService) SaveLeaseDriver(ctx context.Context, driver *domain.LeaseDriver) (*domain.LeaseDriver, error) {
	args := m.Called(ctx, driver)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LeaseDriver), args.Error(1)
}
