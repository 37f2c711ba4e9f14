package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
	"github.com/segyhp/fleet-billing/internal/lock"
	"github.com/segyhp/fleet-billing/internal/metrics"
	"github.com/segyhp/fleet-billing/internal/repository"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/logger"
)

const driverID = "D-1"

var startDate = time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *BillingService
	store    repository.Store
	redis    *redis.Client
	registry *prometheus.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Business: config.BusinessConfig{
			PaymentMatrixTiers:   "200=FULL;500=100;1000=200;3000=250;*=300",
			RestrictedCategories: "Tax",
			DelinquencyThreshold: 2,
		},
		Batch: config.BatchConfig{
			Workers:     4,
			Limit:       100,
			ItemTimeout: "10s",
			MaxRetries:  3,
			RetryBase:   "1ms",
			ClaimTTL:    "1m",
		},
	}
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := repository.Open(ctx, repository.Options{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "billing.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(ctx, db))
	store := repository.NewStore(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.Discard()
	registry := prometheus.NewRegistry()
	cfg := testConfig()

	svc, err := NewBillingService(
		store,
		store.Directory(),
		lock.NewRedisClaimer(client, cfg.GetClaimTTL(), log),
		nil,
		metrics.New(registry),
		log,
		cfg,
	)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, redis: client, registry: registry}
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

// openObligation creates and confirms an obligation for driverID.
func (f *fixture) openObligation(t *testing.T, category domain.Category, ref, amount string) *domain.ConfirmObligationResponse {
	t.Helper()
	ctx := context.Background()

	o, err := f.svc.CreateObligation(ctx, &domain.CreateObligationRequest{
		Category:        category,
		ReferenceID:     ref,
		DriverID:        driverID,
		PrincipalAmount: money(amount),
	})
	require.NoError(t, err)

	confirmed, err := f.svc.ConfirmObligation(ctx, &domain.ConfirmObligationRequest{
		ObligationID: o.ID,
		StartDate:    startDate,
		StartPolicy:  domain.StartPolicyCurrent,
	})
	require.NoError(t, err)
	return confirmed
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	out, err := f.svc.GetOutstanding(context.Background(), id)
	require.NoError(t, err)
	return out.Outstanding
}

func TestObligationLifecycle(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	t.Run("Confirm builds the schedule", func(t *testing.T) {
		o, err := f.svc.CreateObligation(ctx, &domain.CreateObligationRequest{
			Category:        domain.CategoryRepair,
			ReferenceID:     "VRPR-1",
			DriverID:        driverID,
			PrincipalAmount: money("250.00"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusDraft, o.Status)

		o, err = f.svc.UpdateObligationPrincipal(ctx, &domain.UpdatePrincipalRequest{ObligationID: o.ID, PrincipalAmount: money("300.00")})
		require.NoError(t, err)
		assert.True(t, o.OutstandingBalance.Equal(money("300.00")))

		confirmed, err := f.svc.ConfirmObligation(ctx, &domain.ConfirmObligationRequest{
			ObligationID: o.ID,
			StartDate:    startDate,
			StartPolicy:  domain.StartPolicyCurrent,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusOpen, confirmed.Obligation.Status)
		require.Len(t, confirmed.Installments, 3)
		assert.Equal(t, "VRPR-1-01", confirmed.Installments[0].ID)
		assert.True(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC).Equal(confirmed.Installments[0].PeriodStart))
		require.NoError(t, engine.VerifySchedule(money("300.00"), confirmed.Installments))

		schedule, err := f.svc.GetSchedule(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, schedule, 3)

		_, err = f.svc.ConfirmObligation(ctx, &domain.ConfirmObligationRequest{
			ObligationID: o.ID,
			StartDate:    startDate,
			StartPolicy:  domain.StartPolicyCurrent,
		})
		assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err))

		_, err = f.svc.UpdateObligationPrincipal(ctx, &domain.UpdatePrincipalRequest{ObligationID: o.ID, PrincipalAmount: money("10.00")})
		assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err))
	})

	t.Run("Duplicate reference is rejected", func(t *testing.T) {
		_, err := f.svc.CreateObligation(ctx, &domain.CreateObligationRequest{
			Category:        domain.CategoryRepair,
			ReferenceID:     "VRPR-1",
			DriverID:        driverID,
			PrincipalAmount: money("10.00"),
		})
		assert.Equal(t, customError.ErrCodeDuplicateObligation, customError.CodeOf(err))
	})

	t.Run("Invalid requests", func(t *testing.T) {
		_, err := f.svc.CreateObligation(ctx, &domain.CreateObligationRequest{
			Category:        "Fuel",
			ReferenceID:     "X-1",
			DriverID:        driverID,
			PrincipalAmount: money("10.00"),
		})
		assert.Equal(t, customError.ErrCodeValidationFailed, customError.CodeOf(err))

		_, err = f.svc.CreateObligation(ctx, &domain.CreateObligationRequest{
			Category:        domain.CategoryLoan,
			ReferenceID:     "X-2",
			DriverID:        driverID,
			PrincipalAmount: money("10.005"),
		})
		assert.Equal(t, customError.ErrCodeValidationFailed, customError.CodeOf(err))

		_, err = f.svc.GetObligation(ctx, uuid.New())
		assert.Equal(t, customError.ErrCodeObligationNotFound, customError.CodeOf(err))
	})

	t.Run("Hold, resume and cancel", func(t *testing.T) {
		lease := f.openObligation(t, domain.CategoryLease, "L-HOLD", "400.00").Obligation

		held, err := f.svc.HoldObligation(ctx, &domain.ObligationActionRequest{ObligationID: lease.ID, Reason: "dispute"})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusHold, held.Status)

		resumed, err := f.svc.ResumeObligation(ctx, &domain.ObligationActionRequest{ObligationID: lease.ID})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusOpen, resumed.Status)

		_, err = f.svc.HoldObligation(ctx, &domain.ObligationActionRequest{ObligationID: lease.ID})
		require.NoError(t, err)
		cancelled, err := f.svc.CancelObligation(ctx, &domain.ObligationActionRequest{ObligationID: lease.ID, Reason: "terminated"})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusCancelled, cancelled.Status)

		_, err = f.svc.ResumeObligation(ctx, &domain.ObligationActionRequest{ObligationID: lease.ID})
		assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err))
	})
}

func TestPostInstallment(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	loan := f.openObligation(t, domain.CategoryLoan, "LN-1", "300.00")
	first := loan.Installments[0]

	_, err := f.svc.PostInstallment(ctx, first.ID, startDate)
	assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err), "scheduled installments are not postable")

	marked, err := f.svc.MarkDueInstallments(ctx, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	result, err := f.svc.PostInstallment(ctx, first.ID, startDate)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, domain.DirectionDebit, result.Posting.Direction)
	assert.True(t, result.BalanceAfter.Equal(money("200.00")))

	again, err := f.svc.PostInstallment(ctx, first.ID, startDate)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, result.Posting.ID, again.Posting.ID)
	assert.True(t, f.balance(t, loan.Obligation.ID).Equal(money("200.00")))

	postings, err := f.svc.GetPostings(ctx, loan.Obligation.ID)
	require.NoError(t, err)
	assert.Len(t, postings, 1)

	count, err := testutil.GatherAndCount(f.registry, "fleet_billing_ledger_postings_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "failed, posted and duplicate series")

	paid, err := f.svc.ReconcileInstallment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusPaid, paid.Status)

	_, err = f.svc.ReconcileInstallment(ctx, loan.Installments[1].ID)
	assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err))

	// A replay after the balance moved still reports the balances of the original post.
	_, err = f.svc.CreatePayment(ctx, &domain.CreatePaymentRequest{
		PaymentID:   "IMP-2025-LN1",
		DriverID:    driverID,
		MedallionID: "1A23",
		TotalAmount: money("50.00"),
		PaymentDate: startDate,
		Method:      domain.PaymentMethodCash,
		Allocations: []domain.AllocationRequest{{Category: domain.CategoryLoan, ReferenceID: "LN-1", Amount: money("50.00")}},
	})
	require.NoError(t, err)
	require.True(t, f.balance(t, loan.Obligation.ID).Equal(money("150.00")))

	replay, err := f.svc.PostInstallment(ctx, first.ID, startDate)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.True(t, replay.BalanceBefore.Equal(money("300.00")))
	assert.True(t, replay.BalanceAfter.Equal(money("200.00")))
	assert.False(t, replay.Closed)
}

func TestRunPostingBatch(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	loan := f.openObligation(t, domain.CategoryLoan, "LN-2", "300.00")
	asOf := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := f.svc.RunPostingBatch(ctx, &domain.PostingBatchRequest{AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, 3, result.MarkedDue)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Succeeded)
	for _, item := range result.Items {
		assert.Equal(t, kindInstallment, item.Kind)
	}

	o, err := f.svc.GetObligation(ctx, loan.Obligation.ID)
	require.NoError(t, err)
	assert.True(t, o.OutstandingBalance.IsZero())
	assert.Equal(t, domain.ObligationStatusClosed, o.Status)

	rerun, err := f.svc.RunPostingBatch(ctx, &domain.PostingBatchRequest{AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, 0, rerun.Total)
}

func TestIsDelinquent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	loan := f.openObligation(t, domain.CategoryLoan, "LN-3", "300.00")
	id := loan.Obligation.ID

	early, err := f.svc.IsDelinquent(ctx, id, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, early.IsDelinquent)
	assert.Equal(t, 0, early.MissedWeeks)

	late := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	missed, err := f.svc.IsDelinquent(ctx, id, late)
	require.NoError(t, err)
	assert.True(t, missed.IsDelinquent)
	assert.Equal(t, 3, missed.MissedWeeks)

	_, err = f.svc.RunPostingBatch(ctx, &domain.PostingBatchRequest{AsOf: late})
	require.NoError(t, err)
	_, err = f.svc.ReconcileInstallment(ctx, loan.Installments[1].ID)
	require.NoError(t, err)

	status, err := f.svc.IsDelinquent(ctx, id, late)
	require.NoError(t, err)
	assert.False(t, status.IsDelinquent)
	assert.Equal(t, 1, status.MissedWeeks)
}

func TestCreatePayment(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	lease := f.openObligation(t, domain.CategoryLease, "L-1", "500.00").Obligation
	repair := f.openObligation(t, domain.CategoryRepair, "R-1", "300.00").Obligation

	request := &domain.CreatePaymentRequest{
		PaymentID:   "IMP-2025-TEST0001",
		DriverID:    driverID,
		MedallionID: "1A23",
		TotalAmount: money("150.00"),
		PaymentDate: startDate,
		Method:      domain.PaymentMethodCash,
		Allocations: []domain.AllocationRequest{
			{Category: domain.CategoryRepair, ReferenceID: "R-1", Amount: money("100.00")},
		},
	}

	t.Run("Remainder overflows to the open lease", func(t *testing.T) {
		result, err := f.svc.CreatePayment(ctx, request)
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
		require.Len(t, result.Payment.Allocations, 2)

		first, second := result.Payment.Allocations[0], result.Payment.Allocations[1]
		assert.Equal(t, "IMP-2025-TEST0001-01", first.ID)
		assert.Equal(t, domain.CategoryRepair, first.TargetCategory)
		assert.True(t, first.BalanceAfter.Equal(money("200.00")))
		assert.False(t, first.Overflow)
		assert.Equal(t, domain.CategoryLease, second.TargetCategory)
		assert.True(t, second.Amount.Equal(money("50.00")))
		assert.True(t, second.Overflow)

		assert.True(t, f.balance(t, repair.ID).Equal(money("200.00")))
		assert.True(t, f.balance(t, lease.ID).Equal(money("450.00")))
	})

	t.Run("Replay returns the stored payment", func(t *testing.T) {
		result, err := f.svc.CreatePayment(ctx, request)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Len(t, result.Payment.Allocations, 2)
		assert.True(t, f.balance(t, lease.ID).Equal(money("450.00")))
	})

	t.Run("Rejections leave balances untouched", func(t *testing.T) {
		tests := []struct {
			name         string
			allocations  []domain.AllocationRequest
			total        string
			expectedCode string
		}{
			{
				name:         "restricted category",
				allocations:  []domain.AllocationRequest{{Category: domain.CategoryTax, ReferenceID: "TX-1", Amount: money("10.00")}},
				total:        "10.00",
				expectedCode: customError.ErrCodeRestrictedCategory,
			},
			{
				name:         "allocations exceed total",
				allocations:  []domain.AllocationRequest{{Category: domain.CategoryRepair, ReferenceID: "R-1", Amount: money("80.00")}},
				total:        "50.00",
				expectedCode: customError.ErrCodeOverAllocation,
			},
			{
				name:         "unknown target",
				allocations:  []domain.AllocationRequest{{Category: domain.CategoryRepair, ReferenceID: "R-404", Amount: money("10.00")}},
				total:        "10.00",
				expectedCode: customError.ErrCodeObligationNotFound,
			},
			{
				name:         "remainder larger than the lease balance",
				total:        "1000.00",
				expectedCode: customError.ErrCodeNoOverflowTarget,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.CreatePayment(ctx, &domain.CreatePaymentRequest{
					DriverID:    driverID,
					MedallionID: "1A23",
					TotalAmount: money(tt.total),
					PaymentDate: startDate,
					Method:      domain.PaymentMethodACH,
					Allocations: tt.allocations,
				})
				require.Error(t, err)
				assert.Equal(t, tt.expectedCode, customError.CodeOf(err))
			})
		}

		assert.True(t, f.balance(t, repair.ID).Equal(money("200.00")))
		assert.True(t, f.balance(t, lease.ID).Equal(money("450.00")))
	})

	t.Run("Another driver's obligation is rejected", func(t *testing.T) {
		_, err := f.svc.CreatePayment(ctx, &domain.CreatePaymentRequest{
			DriverID:    "D-2",
			MedallionID: "9Z99",
			TotalAmount: money("20.00"),
			PaymentDate: startDate,
			Method:      domain.PaymentMethodCard,
			Allocations: []domain.AllocationRequest{{Category: domain.CategoryRepair, ReferenceID: "R-1", Amount: money("20.00")}},
		})
		assert.Equal(t, customError.ErrCodeValidationFailed, customError.CodeOf(err))
	})

	t.Run("Void restores the allocation", func(t *testing.T) {
		stored, err := f.store.Payments().GetByPaymentID(ctx, request.PaymentID)
		require.NoError(t, err)
		postingID := *stored.Allocations[0].PostingID

		reversal, err := f.svc.VoidPosting(ctx, &domain.VoidPostingRequest{PostingID: postingID, Reason: "bounced"})
		require.NoError(t, err)
		assert.False(t, reversal.Duplicate)
		assert.Equal(t, domain.SourceReversal, reversal.Posting.SourceType)
		assert.Equal(t, domain.DirectionDebit, reversal.Posting.Direction)
		assert.True(t, f.balance(t, repair.ID).Equal(money("300.00")))

		again, err := f.svc.VoidPosting(ctx, &domain.VoidPostingRequest{PostingID: postingID, Reason: "bounced"})
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.True(t, f.balance(t, repair.ID).Equal(money("300.00")))

		_, err = f.svc.VoidPosting(ctx, &domain.VoidPostingRequest{PostingID: reversal.Posting.ID, Reason: "oops"})
		assert.Equal(t, customError.ErrCodeInvalidStateTransition, customError.CodeOf(err))
	})
}

func TestConcurrentAllocationsNeverOverdraw(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	repair := f.openObligation(t, domain.CategoryRepair, "R-RACE", "100.00").Obligation

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.CreatePayment(ctx, &domain.CreatePaymentRequest{
				DriverID:    driverID,
				MedallionID: "1A23",
				TotalAmount: money("60.00"),
				PaymentDate: startDate,
				Method:      domain.PaymentMethodCash,
				Allocations: []domain.AllocationRequest{{Category: domain.CategoryRepair, ReferenceID: "R-RACE", Amount: money("60.00")}},
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, customError.ErrCodeNoOverflowTarget, customError.CodeOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, f.balance(t, repair.ID).Equal(money("40.00")))
}

func TestApplyEarnings(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	lease := f.openObligation(t, domain.CategoryLease, "L-9", "500.00").Obligation
	toll := f.openObligation(t, domain.CategoryToll, "E-9/2025-01", "30.00").Obligation

	request := &domain.ApplyEarningsRequest{
		BatchID:  "2025-W02",
		DriverID: driverID,
		Amount:   money("600.00"),
		Date:     startDate,
	}
	result, err := f.svc.ApplyEarnings(ctx, request)
	require.NoError(t, err)
	require.Len(t, result.Payment.Allocations, 2)
	assert.Equal(t, domain.CategoryToll, result.Payment.Allocations[0].TargetCategory)
	assert.Equal(t, domain.CategoryLease, result.Payment.Allocations[1].TargetCategory)
	assert.True(t, result.NetRemainder.Equal(money("70.00")))
	assert.Equal(t, domain.PaymentMethodEarnings, result.Payment.Method)

	closedToll, err := f.svc.GetObligation(ctx, toll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ObligationStatusClosed, closedToll.Status)
	assert.True(t, f.balance(t, lease.ID).IsZero())

	replay, err := f.svc.ApplyEarnings(ctx, request)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.True(t, replay.NetRemainder.Equal(money("70.00")))

	t.Run("nothing owed records no payment", func(t *testing.T) {
		idle := &domain.ApplyEarningsRequest{
			BatchID:  "2025-W03",
			DriverID: driverID,
			Amount:   money("10.00"),
			Date:     startDate,
		}
		result, err := f.svc.ApplyEarnings(ctx, idle)
		require.NoError(t, err)
		assert.Nil(t, result.Payment)
		assert.False(t, result.Duplicate)
		assert.True(t, result.NetRemainder.Equal(money("10.00")))

		_, err = f.store.Payments().GetByPaymentID(ctx, "EARN-2025-W03-"+driverID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func seedDirectory(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.SaveVehicle(ctx, &domain.Vehicle{ID: "V-1", Plate: "t123-456c", VIN: "1FTFW1E50PFA00001"})
	require.NoError(t, err)
	_, err = f.svc.SaveLease(ctx, &domain.Lease{
		ID:          "L-1",
		VehicleID:   "V-1",
		MedallionID: strPtr("1A23"),
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.svc.SaveLeaseDriver(ctx, &domain.LeaseDriver{LeaseID: "L-1", DriverID: driverID, IsPrimary: true, Sequence: 1})
	require.NoError(t, err)
}

func TestTransactionPipeline(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedDirectory(t, f)

	imported, err := f.svc.ImportTransactions(ctx, &domain.ImportTransactionsRequest{Transactions: []domain.ImportTransaction{
		{ExternalID: "E-1", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "T123456C", EventTimestamp: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), Amount: money("12.50")},
		{ExternalID: "E-2", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "ZZZ999", EventTimestamp: time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC), Amount: money("6.00")},
		{ExternalID: "E-3", Period: "2024-12", Kind: domain.TransactionKindViolation, PlateOrTag: "T123456C", EventTimestamp: time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC), Amount: money("115.00")},
		{ExternalID: "E-1", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "T123456C", EventTimestamp: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), Amount: money("12.50")},
		{ExternalID: "E-4", Period: "2025-02", Kind: "Parking", PlateOrTag: "T123456C", EventTimestamp: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), Amount: money("1.00")},
	}})
	require.NoError(t, err)
	assert.Equal(t, 5, imported.Total)
	assert.Equal(t, 3, imported.Succeeded)
	assert.Equal(t, 1, imported.Duplicates)
	assert.Equal(t, 1, imported.Failed)
	assert.Equal(t, customError.ErrCodeValidationFailed, imported.Items[4].Code)

	associated, err := f.svc.RunAssociationBatch(ctx, &domain.AssociationBatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, associated.Total)
	assert.Equal(t, 1, associated.Succeeded)
	assert.Equal(t, 2, associated.Failed)

	latest := func(externalID, period string) *domain.ExternalTransaction {
		tx, err := f.store.Transactions().LatestAttempt(ctx, externalID, period)
		require.NoError(t, err)
		return tx
	}

	e1 := latest("E-1", "2025-02")
	assert.Equal(t, domain.TransactionStatusAssociated, e1.Status)
	require.NotNil(t, e1.DriverID)
	assert.Equal(t, driverID, *e1.DriverID)
	assert.Equal(t, "1A23", *e1.MedallionID)

	e2 := latest("E-2", "2025-02")
	assert.Equal(t, domain.TransactionStatusFailed, e2.Status)
	assert.Equal(t, domain.FailureNoVehicleFound, *e2.FailureReason)

	e3 := latest("E-3", "2024-12")
	assert.Equal(t, domain.TransactionStatusFailed, e3.Status)
	assert.Equal(t, domain.FailureNoActiveLease, *e3.FailureReason)

	posted, err := f.svc.RunPostingBatch(ctx, &domain.PostingBatchRequest{AsOf: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 1, posted.Succeeded)

	e1 = latest("E-1", "2025-02")
	assert.Equal(t, domain.TransactionStatusPosted, e1.Status)
	require.NotNil(t, e1.ObligationID)
	toll, err := f.svc.GetObligation(ctx, *e1.ObligationID)
	require.NoError(t, err)
	assert.Equal(t, "Toll:E-1/2025-02", toll.Ref())
	assert.Equal(t, domain.ObligationStatusOpen, toll.Status)
	assert.True(t, toll.OutstandingBalance.Equal(money("12.50")))

	again, err := f.svc.PostExternalTransaction(ctx, e1.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	t.Run("Failed attempt can be imported again", func(t *testing.T) {
		retry, err := f.svc.ImportTransactions(ctx, &domain.ImportTransactionsRequest{Transactions: []domain.ImportTransaction{
			{ExternalID: "E-2", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "T123456C", EventTimestamp: time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC), Amount: money("6.00")},
		}})
		require.NoError(t, err)
		assert.Equal(t, 1, retry.Succeeded)
		assert.Equal(t, 2, latest("E-2", "2025-02").Attempt)
	})

	t.Run("Driver summary", func(t *testing.T) {
		summary, err := f.svc.GetDriverSummary(ctx, driverID)
		require.NoError(t, err)
		require.Len(t, summary.Categories, 1)
		assert.Equal(t, domain.CategoryToll, summary.Categories[0].Category)
		assert.True(t, summary.TotalOutstanding.Equal(money("12.50")))
	})
}

func TestAssociationBatchSkipsClaimedItems(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedDirectory(t, f)

	_, err := f.svc.ImportTransactions(ctx, &domain.ImportTransactionsRequest{Transactions: []domain.ImportTransaction{
		{ExternalID: "E-7", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "T123456C", EventTimestamp: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), Amount: money("3.25")},
	}})
	require.NoError(t, err)
	tx, err := f.store.Transactions().LatestAttempt(ctx, "E-7", "2025-02")
	require.NoError(t, err)

	other := lock.NewRedisClaimer(f.redis, time.Minute, logger.Discard())
	release, claimed, err := other.TryClaim(ctx, lock.Key(kindTransaction, tx.ID.String()))
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := f.svc.RunAssociationBatch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, domain.ItemSkipped, result.Items[0].Status)

	unchanged, err := f.store.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusImported, unchanged.Status)

	release(ctx)
	result, err = f.svc.RunAssociationBatch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
}

func TestBatchItemTimeoutFailsTransaction(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.ImportTransactions(ctx, &domain.ImportTransactionsRequest{Transactions: []domain.ImportTransaction{
		{ExternalID: "E-8", Period: "2025-02", Kind: domain.TransactionKindToll, PlateOrTag: "SLOW1", EventTimestamp: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), Amount: money("3.25")},
	}})
	require.NoError(t, err)
	tx, err := f.store.Transactions().LatestAttempt(ctx, "E-8", "2025-02")
	require.NoError(t, err)

	item := batchItem{
		id:   tx.ID.String(),
		kind: kindTransaction,
		run: func(ctx context.Context) (domain.ItemStatus, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		onFailure: func(ctx context.Context, err error) {
			f.svc.failTransaction(ctx, tx.ID, engine.FailureReason(err))
		},
	}
	f.svc.config.Batch.ItemTimeout = "20ms"

	outcomes := f.svc.runItems(ctx, batchAssociation, []batchItem{item})
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.ItemFailed, outcomes[0].Status)
	assert.Equal(t, customError.ErrCodeTimeout, outcomes[0].Code)

	failed, err := f.store.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, failed.Status)
	assert.Equal(t, domain.FailureTimeout, *failed.FailureReason)
}

func TestReadModelsOfMissingObligation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.GetSchedule(ctx, uuid.New())
	assert.Equal(t, customError.ErrCodeObligationNotFound, customError.CodeOf(err))

	_, err = f.svc.PostInstallment(ctx, "NOPE-01", startDate)
	assert.Equal(t, customError.ErrCodeNotFound, customError.CodeOf(err))

	_, err = f.store.Payments().GetByPaymentID(ctx, "IMP-NONE")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRunItemReportsDuplicatePostings(t *testing.T) {
	f := setupService(t)

	outcome := f.svc.runItem(context.Background(), batchPosting, batchItem{
		id:   "Loan:LN-9-01",
		kind: kindInstallment,
		run: func(ctx context.Context) (domain.ItemStatus, error) {
			return domain.ItemDuplicate, nil
		},
	})

	assert.Equal(t, domain.ItemDuplicate, outcome.Status)
	assert.Equal(t, customError.ErrCodeDuplicatePosting, outcome.Code)
	assert.Equal(t, string(customError.CategoryConflict), outcome.Category)
}

func TestRetry(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	t.Run("transient store failures are retried", func(t *testing.T) {
		calls := 0
		err := f.svc.retry(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return customError.WrapDatabaseError(errors.New("connection reset"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		calls := 0
		err := f.svc.retry(ctx, func(context.Context) error {
			calls++
			return customError.ErrConcurrentUpdate
		})
		assert.ErrorIs(t, err, customError.ErrConcurrentUpdate)
		assert.Equal(t, f.svc.config.Batch.MaxRetries+1, calls)
	})

	t.Run("business errors are not retried", func(t *testing.T) {
		calls := 0
		err := f.svc.retry(ctx, func(context.Context) error {
			calls++
			return customError.WrapValidation(errors.New("bad input"))
		})
		assert.ErrorIs(t, err, customError.ErrValidation)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context returns the last error", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := f.svc.retry(cancelled, func(context.Context) error {
			calls++
			return customError.ErrConcurrentUpdate
		})
		assert.ErrorIs(t, err, customError.ErrConcurrentUpdate)
		assert.Equal(t, 1, calls)
	})
}
