package reconcile

import (
	"context"
	"log/slog"
	"time"

	"news_ingest/internal/config"
	"news_ingest/internal/domain"
)

// DeliveryLister is the slice of the ledger the reconciler needs.
type DeliveryLister interface {
	ListFailed(ctx context.Context, limit int) ([]domain.WebhookDelivery, error)
	ListStaleReceived(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error)
	SetStatus(ctx context.Context, id int64, status domain.DeliveryStatus, lastError *string) error
}

type JobPublisher interface {
	PublishDispatch(ctx context.Context, deliveryID int64, runID string) error
}

// Reconciler periodically re-enqueues dispatch jobs for FAILED
// deliveries and for RECEIVED deliveries whose job apparently never
// ran (lost enqueue, worker crash).
type Reconciler struct {
	ledger DeliveryLister
	jobs   JobPublisher
	config config.ReconcileConfig
	logger *slog.Logger
}

func NewReconciler(ledger DeliveryLister, jobs JobPublisher, cfg config.ReconcileConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		jobs:   jobs,
		config: cfg,
		logger: logger.With("component", "reconcile"),
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("reconciler started",
		"interval", r.config.Interval,
		"stale_after", r.config.StaleAfter,
	)

	r.runPass(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, r.config.RequeueTimeout)
	defer cancel()

	requeued := 0
	requeued += r.requeueFailed(passCtx)
	requeued += r.requeueStale(passCtx)

	if requeued > 0 {
		r.logger.Info("reconcile pass completed", "requeued", requeued)
	}
}

func (r *Reconciler) requeueFailed(ctx context.Context) int {
	deliveries, err := r.ledger.ListFailed(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("list failed deliveries", "error", err)
		return 0
	}
	return r.requeue(ctx, deliveries)
}

func (r *Reconciler) requeueStale(ctx context.Context) int {
	cutoff := time.Now().Add(-r.config.StaleAfter)
	deliveries, err := r.ledger.ListStaleReceived(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error("list stale deliveries", "error", err)
		return 0
	}
	return r.requeue(ctx, deliveries)
}

func (r *Reconciler) requeue(ctx context.Context, deliveries []domain.WebhookDelivery) int {
	count := 0
	for _, delivery := range deliveries {
		// A delivery still failing past the give-up window is poison:
		// park it instead of burning a dispatch cycle every pass.
		if r.config.GiveUpAfter > 0 && time.Since(delivery.CreatedAt) > r.config.GiveUpAfter {
			r.logger.Warn("abandoning delivery past give-up window",
				"delivery_id", delivery.ID,
				"run_id", delivery.RunID,
				"age", time.Since(delivery.CreatedAt),
			)
			if err := r.ledger.SetStatus(ctx, delivery.ID, domain.DeliveryStatusAbandoned, delivery.LastError); err != nil {
				r.logger.Error("abandon delivery",
					"delivery_id", delivery.ID,
					"error", err,
				)
			}
			continue
		}

		if err := r.jobs.PublishDispatch(ctx, delivery.ID, delivery.RunID); err != nil {
			r.logger.Error("requeue delivery",
				"delivery_id", delivery.ID,
				"run_id", delivery.RunID,
				"error", err,
			)
			continue
		}

		// Reset to RECEIVED so the next pass does not re-enqueue the
		// same row before the stale cutoff elapses again.
		if err := r.ledger.SetStatus(ctx, delivery.ID, domain.DeliveryStatusReceived, delivery.LastError); err != nil {
			r.logger.Error("reset delivery status",
				"delivery_id", delivery.ID,
				"error", err,
			)
			continue
		}

		count++
	}
	return count
}
