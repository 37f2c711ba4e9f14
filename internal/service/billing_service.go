package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
	"github.com/segyhp/fleet-billing/internal/lock"
	"github.com/segyhp/fleet-billing/internal/metrics"
	"github.com/segyhp/fleet-billing/internal/notify"
	"github.com/segyhp/fleet-billing/internal/repository"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
	"github.com/segyhp/fleet-billing/pkg/validation"
)

type BillingService struct {
	store      repository.Store
	scheduler  *engine.Scheduler
	associator *engine.Associator
	allocator  *engine.Allocator
	claimer    lock.Claimer
	publisher  notify.Publisher
	metrics    *metrics.Metrics
	validate   *validator.Validate
	logger     *logrus.Logger
	config     *config.Config
	now        func() time.Time

	// invalidator is set when the directory is a cache in front of the store.
	invalidator plateInvalidator
}

// NewBillingService wires the engine components. dir is the directory the
// associator resolves against; pass the store's directory or a cache in front of it.
// A cache is told to forget plates written through SaveVehicle.
func NewBillingService(
	store repository.Store,
	dir engine.Directory,
	claimer lock.Claimer,
	publisher notify.Publisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
	cfg *config.Config,
) (*BillingService, error) {
	matrix, err := engine.NewPaymentMatrix(cfg.GetPaymentMatrixTiers())
	if err != nil {
		return nil, fmt.Errorf("invalid payment matrix: %w", err)
	}
	if claimer == nil {
		claimer = lock.NoopClaimer{}
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}

	invalidator, _ := dir.(plateInvalidator)

	return &BillingService{
		store:      store,
		scheduler:  engine.NewScheduler(matrix, cfg.GetLocation()),
		associator: engine.NewAssociator(dir),
		allocator:  engine.NewAllocator(cfg.GetRestrictedCategories()),
		claimer:    claimer,
		publisher:  publisher,
		metrics:    m,
		validate:   validation.New(),
		logger:     logger,
		config:     cfg,
		now:        time.Now,

		invalidator: invalidator,
	}, nil
}

// retryPolicy doubles the delay from the configured base, with jitter, for at
// most BATCH_MAX_RETRIES retries. It stops early when ctx is done.
func (s *BillingService) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.GetRetryBase()
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.Batch.MaxRetries)), ctx)
}

// retry runs fn again on optimistic conflicts and transient store failures.
// Other errors end the loop at once. The error of the last attempt is returned.
func (s *BillingService) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var last error
	err := backoff.Retry(func() error {
		last = fn(ctx)
		if last != nil && !customError.IsRetryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, s.retryPolicy(ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}

func (s *BillingService) validateRequest(request interface{}) error {
	if err := s.validate.Struct(request); err != nil {
		return customError.WrapValidation(err)
	}
	return nil
}

// storeError leaves business errors untouched and wraps everything else as a database error.
func storeError(err error) error {
	var be *customError.BusinessError
	if errors.As(err, &be) {
		return err
	}
	return customError.WrapDatabaseError(err)
}

// CreateObligation records a new Draft obligation
func (s *BillingService) CreateObligation(ctx context.Context, request *domain.CreateObligationRequest) (*domain.Obligation, error) {
	// 1. Validate request
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}
	if !request.Category.Valid() {
		return nil, customError.WrapValidation(fmt.Errorf("unknown category %q", request.Category))
	}

	// 2. Build the Draft obligation; nothing is owed until it is confirmed
	obligation := &domain.Obligation{
		Category:           request.Category,
		ReferenceID:        request.ReferenceID,
		DriverID:           request.DriverID,
		VehicleID:          request.VehicleID,
		LeaseID:            request.LeaseID,
		MedallionID:        request.MedallionID,
		PrincipalAmount:    request.PrincipalAmount,
		OutstandingBalance: request.PrincipalAmount,
		Status:             domain.ObligationStatusDraft,
		StartPolicy:        domain.StartPolicyCurrent,
		Description:        request.Description,
		CreatedAt:          s.now(),
	}

	// 3. Save; the store rejects a second obligation with the same category and reference
	if err := s.store.Obligations().Create(ctx, obligation); err != nil {
		return nil, storeError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"obligation": obligation.Ref(),
		"driver_id":  obligation.DriverID,
		"principal":  obligation.PrincipalAmount.StringFixed(2),
	}).Info("Obligation created")

	return obligation, nil
}

// UpdateObligationPrincipal changes the principal of a Draft obligation.
func (s *BillingService) UpdateObligationPrincipal(ctx context.Context, request *domain.UpdatePrincipalRequest) (*domain.Obligation, error) {
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	var obligation *domain.Obligation
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		o, err := lockObligation(ctx, tx, request.ObligationID)
		if err != nil {
			return err
		}
		if o.Status != domain.ObligationStatusDraft {
			return customError.WrapInvalidStateTransition("principal of obligation "+o.Ref(), string(o.Status), "Updated")
		}
		postings, err := tx.Ledger().CountByObligation(ctx, o.ID)
		if err != nil {
			return err
		}
		if postings > 0 {
			return customError.WrapInvalidStateTransition("principal of obligation "+o.Ref()+" with postings", string(o.Status), "Updated")
		}

		o.PrincipalAmount = request.PrincipalAmount
		o.OutstandingBalance = request.PrincipalAmount
		if err := tx.Obligations().Update(ctx, o); err != nil {
			return err
		}
		obligation = o
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return obligation, nil
}

// ConfirmObligation opens a Draft obligation. Repair and loan obligations get
// their installment schedule generated and stored in the same transaction.
func (s *BillingService) ConfirmObligation(ctx context.Context, request *domain.ConfirmObligationRequest) (*domain.ConfirmObligationResponse, error) {
	// 1. Validate request
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	response := &domain.ConfirmObligationResponse{}
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		// 2. Lock the obligation and check it is still a Draft
		o, err := lockObligation(ctx, tx, request.ObligationID)
		if err != nil {
			return err
		}
		if err := o.TransitionTo(domain.ObligationStatusOpen, 0); err != nil {
			return err
		}

		// 3. Generate the schedule for scheduled categories
		var installments []*domain.Installment
		if o.Category.IsScheduled() {
			installments, err = s.scheduler.Schedule(o.PrincipalAmount, request.StartDate, request.StartPolicy)
			if err != nil {
				return err
			}
			for _, inst := range installments {
				inst.ID = utils.InstallmentID(o.ReferenceID, inst.SequenceNo)
				inst.ObligationID = o.ID
			}
		}

		// 4. Persist the obligation and its installments together
		startDate := request.StartDate
		o.StartDate = &startDate
		o.StartPolicy = request.StartPolicy
		if err := tx.Obligations().Update(ctx, o); err != nil {
			return err
		}
		if len(installments) > 0 {
			if err := tx.Installments().CreateBatch(ctx, installments); err != nil {
				return err
			}
		}

		response.Obligation = o
		response.Installments = installments
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"obligation":   response.Obligation.Ref(),
		"installments": len(response.Installments),
		"start_policy": request.StartPolicy,
	}).Info("Obligation confirmed")

	return response, nil
}

// HoldObligation suspends an open obligation.
func (s *BillingService) HoldObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return s.transitionObligation(ctx, request, domain.ObligationStatusHold)
}

// ResumeObligation reopens a held obligation.
func (s *BillingService) ResumeObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return s.transitionObligation(ctx, request, domain.ObligationStatusOpen)
}

// CancelObligation cancels a Draft or held obligation that never had a posting.
func (s *BillingService) CancelObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error) {
	return s.transitionObligation(ctx, request, domain.ObligationStatusCancelled)
}

func (s *BillingService) transitionObligation(ctx context.Context, request *domain.ObligationActionRequest, next domain.ObligationStatus) (*domain.Obligation, error) {
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	var obligation *domain.Obligation
	var from domain.ObligationStatus
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		o, err := lockObligation(ctx, tx, request.ObligationID)
		if err != nil {
			return err
		}
		postings, err := tx.Ledger().CountByObligation(ctx, o.ID)
		if err != nil {
			return err
		}
		from = o.Status
		if err := o.TransitionTo(next, postings); err != nil {
			return err
		}
		if err := tx.Obligations().Update(ctx, o); err != nil {
			return err
		}
		obligation = o
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"obligation": obligation.Ref(),
		"from":       from,
		"to":         next,
		"reason":     request.Reason,
	}).Info("Obligation status changed")

	return obligation, nil
}

// GetObligation returns an obligation by id
func (s *BillingService) GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	o, err := s.store.Obligations().GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapObligationNotFound(id.String())
	}
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return o, nil
}

// GetSchedule returns the installments of an obligation in sequence order
func (s *BillingService) GetSchedule(ctx context.Context, id uuid.UUID) ([]*domain.Installment, error) {
	if _, err := s.GetObligation(ctx, id); err != nil {
		return nil, err
	}
	installments, err := s.store.Installments().ListByObligation(ctx, id)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return installments, nil
}

// GetPostings returns the ledger postings recorded against an obligation
func (s *BillingService) GetPostings(ctx context.Context, id uuid.UUID) ([]*domain.LedgerPosting, error) {
	if _, err := s.GetObligation(ctx, id); err != nil {
		return nil, err
	}
	postings, err := s.store.Ledger().ListByObligation(ctx, id)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return postings, nil
}

// GetOutstanding returns the outstanding balance of an obligation
func (s *BillingService) GetOutstanding(ctx context.Context, id uuid.UUID) (*domain.OutstandingResponse, error) {
	o, err := s.GetObligation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.OutstandingResponse{
		ObligationID: o.ID,
		Reference:    o.Ref(),
		Outstanding:  o.OutstandingBalance,
	}, nil
}

// IsDelinquent reports whether the most recent finished installments of an
// obligation were left unpaid for at least the configured number of weeks.
func (s *BillingService) IsDelinquent(ctx context.Context, id uuid.UUID, asOf time.Time) (*domain.DelinquentResponse, error) {
	installments, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	// Count consecutive missed weeks, resetting on every paid one
	missed := 0
	for _, inst := range installments {
		if !utils.IsDateOverdue(inst.PeriodEnd, asOf) {
			break
		}
		if inst.Status == domain.InstallmentStatusPaid {
			missed = 0
			continue
		}
		missed++
	}

	return &domain.DelinquentResponse{
		ObligationID: id,
		IsDelinquent: missed >= s.config.Business.DelinquencyThreshold,
		MissedWeeks:  missed,
	}, nil
}

// GetDriverSummary totals what a driver owes on open and held obligations, per category.
func (s *BillingService) GetDriverSummary(ctx context.Context, driverID string) (*domain.DriverSummary, error) {
	obligations, err := s.store.Obligations().ListByDriver(ctx, driverID, domain.ObligationStatusOpen, domain.ObligationStatusHold)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	byCategory := make(map[domain.Category]*domain.CategoryBalance)
	summary := &domain.DriverSummary{DriverID: driverID, TotalOutstanding: decimal.Zero, Categories: []domain.CategoryBalance{}}
	for _, o := range obligations {
		line, ok := byCategory[o.Category]
		if !ok {
			line = &domain.CategoryBalance{Category: o.Category, Outstanding: decimal.Zero}
			byCategory[o.Category] = line
		}
		line.Outstanding = line.Outstanding.Add(o.OutstandingBalance)
		line.Open++
		summary.TotalOutstanding = summary.TotalOutstanding.Add(o.OutstandingBalance)
	}
	for _, category := range domain.Categories {
		if line, ok := byCategory[category]; ok {
			summary.Categories = append(summary.Categories, *line)
		}
	}
	return summary, nil
}

// lockObligation loads and locks an obligation inside tx.
func lockObligation(ctx context.Context, tx repository.Repositories, id uuid.UUID) (*domain.Obligation, error) {
	o, err := tx.Obligations().GetByIDForUpdate(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapObligationNotFound(id.String())
	}
	return o, err
}
