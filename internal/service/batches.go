package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
	"github.com/segyhp/fleet-billing/internal/lock"
	"github.com/segyhp/fleet-billing/internal/repository"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

// failureGrace bounds the write that records a failed item after its own context expired.
const failureGrace = 5 * time.Second

// batchItem is one independent unit of batch work.
type batchItem struct {
	id   string
	kind string
	run  func(ctx context.Context) (domain.ItemStatus, error)
	// onFailure, when set, records a failed run on the item's source row.
	onFailure func(ctx context.Context, err error)
}

// runItems processes items on the worker pool. Outcomes keep the order of items.
func (s *BillingService) runItems(ctx context.Context, batch string, items []batchItem) []domain.ItemOutcome {
	workers := s.config.Batch.Workers
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]domain.ItemOutcome, len(items))
	p := pool.New().WithMaxGoroutines(workers)
	for i, item := range items {
		p.Go(func() {
			outcomes[i] = s.runItem(ctx, batch, item)
		})
	}
	p.Wait()
	return outcomes
}

func (s *BillingService) runItem(ctx context.Context, batch string, item batchItem) (outcome domain.ItemOutcome) {
	outcome = domain.ItemOutcome{ItemID: item.id, Kind: item.kind, Status: domain.ItemSucceeded}
	defer func() {
		s.metrics.BatchItem(batch, string(outcome.Status))
	}()

	release, claimed, err := s.claimer.TryClaim(ctx, lock.Key(item.kind, item.id))
	if err != nil {
		return failedOutcome(outcome, err)
	}
	if !claimed {
		outcome.Status = domain.ItemSkipped
		outcome.Message = "claimed by another worker"
		return outcome
	}
	defer release(context.WithoutCancel(ctx))

	itemCtx, cancel := s.itemContext(ctx)
	defer cancel()

	status, err := item.run(itemCtx)
	if err != nil {
		if errors.Is(itemCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = customError.WrapTimeout(item.kind + " " + item.id)
		}
		if item.onFailure != nil {
			failCtx, cancelFail := context.WithTimeout(context.WithoutCancel(ctx), failureGrace)
			item.onFailure(failCtx, err)
			cancelFail()
		}
		s.logger.WithFields(logrus.Fields{
			"batch": batch,
			"item":  item.id,
			"kind":  item.kind,
			"error": err,
		}).Warn("Batch item failed")
		return failedOutcome(outcome, err)
	}
	outcome.Status = status
	if status == domain.ItemDuplicate {
		dup := customError.WrapDuplicatePosting(item.kind + " " + item.id)
		outcome.Category = string(dup.Category)
		outcome.Code = dup.Code
		outcome.Message = dup.Message
	}
	return outcome
}

func (s *BillingService) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.config.GetItemTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *BillingService) batchLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if s.config.Batch.Limit > 0 {
		return s.config.Batch.Limit
	}
	return 500
}

// RunAssociationBatch resolves Imported transactions to the vehicle, lease and
// driver responsible at the event time. Unresolvable transactions are marked
// Failed with a reason code; the batch always continues with the next item.
func (s *BillingService) RunAssociationBatch(ctx context.Context, request *domain.AssociationBatchRequest) (*domain.BatchResult, error) {
	if request == nil {
		request = &domain.AssociationBatchRequest{}
	}
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	result := &domain.BatchResult{Batch: batchAssociation, StartedAt: s.now().UTC()}
	pending, err := s.store.Transactions().ListByStatus(ctx, domain.TransactionStatusImported, s.batchLimit(request.Limit))
	if err != nil {
		return nil, storeError(err)
	}

	items := make([]batchItem, 0, len(pending))
	for _, t := range pending {
		id := t.ID
		items = append(items, batchItem{
			id:   id.String(),
			kind: kindTransaction,
			run: func(ctx context.Context) (domain.ItemStatus, error) {
				return s.associateTransaction(ctx, id)
			},
			onFailure: func(ctx context.Context, err error) {
				if customError.CategoryOf(err) == customError.CategoryResolution {
					s.failTransaction(ctx, id, engine.FailureReason(err))
				}
			},
		})
	}

	result.Add(s.runItems(ctx, batchAssociation, items)...)
	s.finishBatch(result)
	return result, nil
}

func (s *BillingService) associateTransaction(ctx context.Context, id uuid.UUID) (domain.ItemStatus, error) {
	t, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return "", storeError(err)
	}
	if t.Status != domain.TransactionStatusImported {
		return domain.ItemSkipped, nil
	}

	association, err := s.associator.Associate(ctx, t)
	if err != nil {
		return "", err
	}

	status := domain.ItemSucceeded
	err = s.retry(ctx, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Repositories) error {
			locked, err := tx.Transactions().GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if locked.Status != domain.TransactionStatusImported {
				status = domain.ItemSkipped
				return nil
			}
			if err := locked.TransitionTo(domain.TransactionStatusAssociated, ""); err != nil {
				return err
			}
			locked.VehicleID = &association.VehicleID
			locked.LeaseID = &association.LeaseID
			locked.DriverID = &association.DriverID
			locked.MedallionID = association.MedallionID
			return tx.Transactions().Update(ctx, locked, domain.TransactionStatusImported)
		})
	})
	if err != nil {
		return "", storeError(err)
	}
	return status, nil
}

// failTransaction marks a transaction Failed with reason unless it already
// reached a terminal status. Errors are logged; the batch outcome already carries the failure.
func (s *BillingService) failTransaction(ctx context.Context, id uuid.UUID, reason string) {
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := tx.Transactions().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == domain.TransactionStatusPosted || t.Status == domain.TransactionStatusFailed {
			return nil
		}
		from := t.Status
		if err := t.TransitionTo(domain.TransactionStatusFailed, reason); err != nil {
			return err
		}
		return tx.Transactions().Update(ctx, t, from)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": id,
			"reason":         reason,
			"error":          err,
		}).Error("Failed to mark transaction as failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"transaction_id": id,
		"reason":         reason,
	}).Info("Transaction marked as failed")
}

// MarkDueInstallments moves Scheduled installments whose period has started to Due.
func (s *BillingService) MarkDueInstallments(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	var count int64
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.store.Installments().MarkDue(ctx, asOf.UTC())
		return err
	})
	if err != nil {
		return 0, storeError(err)
	}
	if count > 0 {
		s.logger.WithFields(logrus.Fields{
			"as_of": asOf.Format(time.RFC3339),
			"count": count,
		}).Info("Installments marked due")
	}
	return count, nil
}

// RunPostingBatch marks due installments, then posts every Due installment and
// every Associated transaction. A transaction that cannot be posted for a
// non-transient reason is marked Failed; installments stay Due for the next run.
func (s *BillingService) RunPostingBatch(ctx context.Context, request *domain.PostingBatchRequest) (*domain.BatchResult, error) {
	if request == nil {
		request = &domain.PostingBatchRequest{}
	}
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}
	asOf := request.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	limit := s.batchLimit(request.Limit)

	result := &domain.BatchResult{Batch: batchPosting, StartedAt: s.now().UTC()}
	marked, err := s.MarkDueInstallments(ctx, asOf)
	if err != nil {
		return nil, err
	}
	result.MarkedDue = int(marked)

	installments, err := s.store.Installments().ListPostable(ctx, limit)
	if err != nil {
		return nil, storeError(err)
	}
	transactions, err := s.store.Transactions().ListByStatus(ctx, domain.TransactionStatusAssociated, limit)
	if err != nil {
		return nil, storeError(err)
	}

	items := make([]batchItem, 0, len(installments)+len(transactions))
	for _, inst := range installments {
		id := inst.ID
		items = append(items, batchItem{
			id:   id,
			kind: kindInstallment,
			run: func(ctx context.Context) (domain.ItemStatus, error) {
				return postingStatus(s.PostInstallment(ctx, id, asOf))
			},
		})
	}
	for _, t := range transactions {
		id := t.ID
		items = append(items, batchItem{
			id:   id.String(),
			kind: kindTransaction,
			run: func(ctx context.Context) (domain.ItemStatus, error) {
				return postingStatus(s.PostExternalTransaction(ctx, id, asOf))
			},
			onFailure: func(ctx context.Context, err error) {
				if !customError.IsRetryable(err) {
					s.failTransaction(ctx, id, engine.FailureReason(err))
				}
			},
		})
	}

	result.Add(s.runItems(ctx, batchPosting, items)...)
	s.finishBatch(result)
	return result, nil
}

func postingStatus(result *domain.PostingResult, err error) (domain.ItemStatus, error) {
	if err != nil {
		return "", err
	}
	if result.Duplicate {
		return domain.ItemDuplicate, nil
	}
	return domain.ItemSucceeded, nil
}

func (s *BillingService) finishBatch(result *domain.BatchResult) {
	result.FinishedAt = s.now().UTC()
	s.metrics.BatchDuration(result.Batch, result.FinishedAt.Sub(result.StartedAt).Seconds())

	s.logger.WithFields(logrus.Fields{
		"batch":      result.Batch,
		"total":      result.Total,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
		"marked_due": result.MarkedDue,
	}).Info("Batch finished")
}
