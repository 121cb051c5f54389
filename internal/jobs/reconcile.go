// Package jobs holds the scheduled maintenance work run by cmd/scheduler.
package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/billing"
	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/logger"
)

const reconcileBatchSize = 100

// ReconcilePendingTransactions re-verifies marketplace transactions that
// have sat in pending longer than olderThanMinutes. Payments whose provider
// call timed out or whose webhook never arrived get settled here. Failures
// on individual transactions are logged and skipped so one bad row never
// blocks the batch.
func ReconcilePendingTransactions(ctx context.Context, platform database.PlatformStore, svc *billing.Service, olderThanMinutes int) error {
	log := logger.L().With(zap.String("job", "reconcile_pending_transactions"))

	pending, err := platform.ListStuckPendingTransactions(ctx, olderThanMinutes, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}

	if len(pending) == 0 {
		log.Debug("no pending transactions to reconcile")
		return nil
	}

	log.Info("reconciling pending transactions", zap.Int("count", len(pending)))

	settled := 0
	for _, tx := range pending {
		result, err := svc.VerifyPayment(ctx, tx.ID)
		if err != nil {
			log.Warn("verification failed, leaving pending",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
			continue
		}
		if result.Succeeded {
			settled++
		}
	}

	log.Info("reconciliation pass finished",
		zap.Int("checked", len(pending)),
		zap.Int("settled", settled))
	return nil
}
