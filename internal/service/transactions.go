package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

const (
	batchImport      = "import"
	batchAssociation = "association"
	batchPosting     = "posting"

	kindTransaction = "transaction"
	kindInstallment = "installment"
)

// ImportTransactions records toll and violation events as Imported. Each item
// stands alone: an invalid or already imported item is reported and the rest
// of the batch continues. A previously Failed attempt is retried as a new attempt.
func (s *BillingService) ImportTransactions(ctx context.Context, request *domain.ImportTransactionsRequest) (*domain.BatchResult, error) {
	if request == nil || len(request.Transactions) == 0 {
		return nil, customError.WrapValidation(errors.New("at least one transaction is required"))
	}

	result := &domain.BatchResult{Batch: batchImport, StartedAt: s.now().UTC()}
	for _, item := range request.Transactions {
		outcome := s.importTransaction(ctx, item)
		s.metrics.BatchItem(batchImport, string(outcome.Status))
		result.Add(outcome)
	}
	result.FinishedAt = s.now().UTC()

	s.logger.WithFields(logrus.Fields{
		"total":      result.Total,
		"succeeded":  result.Succeeded,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}).Info("Transactions imported")
	return result, nil
}

func (s *BillingService) importTransaction(ctx context.Context, item domain.ImportTransaction) domain.ItemOutcome {
	outcome := domain.ItemOutcome{
		ItemID: fmt.Sprintf("%s/%s", item.ExternalID, item.Period),
		Kind:   kindTransaction,
		Status: domain.ItemSucceeded,
	}
	if err := s.validateRequest(&item); err != nil {
		return failedOutcome(outcome, err)
	}

	err := s.retry(ctx, func(ctx context.Context) error {
		attempt := 1
		latest, err := s.store.Transactions().LatestAttempt(ctx, item.ExternalID, item.Period)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case latest.Status != domain.TransactionStatusFailed:
			return customError.WrapDuplicateExternalTransaction(item.ExternalID, item.Period)
		default:
			attempt = latest.Attempt + 1
		}

		return s.store.Transactions().Create(ctx, &domain.ExternalTransaction{
			ExternalID:     item.ExternalID,
			Period:         item.Period,
			Attempt:        attempt,
			Kind:           item.Kind,
			PlateOrTag:     item.PlateOrTag,
			EventTimestamp: item.EventTimestamp,
			Amount:         item.Amount,
			Status:         domain.TransactionStatusImported,
		})
	})
	if errors.Is(err, customError.ErrDuplicateExternalTransaction) {
		outcome.Status = domain.ItemDuplicate
		outcome.Code = customError.ErrCodeDuplicateExternalTransaction
		return outcome
	}
	if err != nil {
		return failedOutcome(outcome, storeError(err))
	}
	return outcome
}

// failedOutcome fills the failure fields of an item outcome from err.
func failedOutcome(outcome domain.ItemOutcome, err error) domain.ItemOutcome {
	outcome.Status = domain.ItemFailed
	outcome.Category = string(customError.CategoryOf(err))
	outcome.Code = customError.CodeOf(err)
	outcome.Message = err.Error()
	var be *customError.BusinessError
	if errors.As(err, &be) {
		outcome.Message = be.Message
	}
	return outcome
}
