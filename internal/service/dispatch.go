package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"news_ingest/internal/config"
	"news_ingest/internal/domain"
)

// DispatchService turns an accepted webhook delivery into articles. It
// runs strictly after the HTTP acknowledgment: failures here are
// recorded on the delivery row, never surfaced to the original caller.
type DispatchService struct {
	ledger     DeliveryLedger
	datasets   DatasetClient
	normalizer Normalizer
	ingestor   Ingestor
	logger     *slog.Logger
	config     config.IngestConfig
}

func NewDispatchService(
	ledger DeliveryLedger,
	datasets DatasetClient,
	normalizer Normalizer,
	ingestor Ingestor,
	logger *slog.Logger,
	cfg config.IngestConfig,
) *DispatchService {
	return &DispatchService{
		ledger:     ledger,
		datasets:   datasets,
		normalizer: normalizer,
		ingestor:   ingestor,
		logger:     logger.With("component", "dispatch"),
		config:     cfg,
	}
}

// Dispatch processes one queued job. It returns an error only when the
// outcome could not be recorded on the delivery row; every domain-level
// failure is absorbed into a FAILED status for the reconciler.
func (s *DispatchService) Dispatch(ctx context.Context, msg domain.DispatchMessage) error {
	startTime := time.Now()
	logger := s.logger.With("delivery_id", msg.DeliveryID, "run_id", msg.RunID)

	delivery, err := s.ledger.GetByID(ctx, msg.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}

	// Queue redeliveries of a terminally settled job are no-ops.
	if delivery.Status == domain.DeliveryStatusSucceeded || delivery.Status == domain.DeliveryStatusAbandoned {
		logger.Debug("delivery already settled, skipping", "status", delivery.Status)
		return nil
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(delivery.RawPayload, &payload); err != nil {
		return s.markFailed(ctx, delivery.ID, logger, fmt.Errorf("parse stored payload: %w", err))
	}

	// A run that did not succeed has no dataset to ingest; recording
	// the notification is all the processing there is.
	if payload.Status != domain.RunStatusSucceeded {
		logger.Info("run did not succeed, nothing to ingest", "run_status", payload.Status)
		return s.ledger.SetStatus(ctx, delivery.ID, domain.DeliveryStatusSucceeded, nil)
	}

	if payload.DatasetID == "" {
		return s.markFailed(ctx, delivery.ID, logger, fmt.Errorf("payload has no dataset id"))
	}

	items, err := s.datasets.FetchItems(ctx, payload.DatasetID, s.config.MaxItemsPerRun)
	if err != nil {
		return s.markFailed(ctx, delivery.ID, logger, fmt.Errorf("fetch dataset %s: %w", payload.DatasetID, err))
	}

	stats := &domain.DispatchStats{
		RunID:   delivery.RunID,
		Fetched: len(items),
	}

	for _, raw := range items {
		item := s.normalizer.Normalize(delivery.ActorID, raw)

		accepted, err := s.ingestor.Ingest(ctx, delivery.ActorID, item)
		if err != nil {
			stats.Errors++
			logger.Warn("ingest item failed", "error", err)
			continue
		}
		if accepted {
			stats.Ingested++
		} else {
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(startTime)

	logger.Info("dispatch completed",
		"fetched", stats.Fetched,
		"ingested", stats.Ingested,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	if stats.Errors > 0 {
		return s.markFailed(ctx, delivery.ID, logger,
			fmt.Errorf("%d of %d items failed to ingest", stats.Errors, stats.Fetched))
	}

	return s.ledger.SetStatus(ctx, delivery.ID, domain.DeliveryStatusSucceeded, nil)
}

// markFailed records the failure on the row and swallows the cause.
// Only a failure to write the status itself propagates.
func (s *DispatchService) markFailed(ctx context.Context, deliveryID int64, logger *slog.Logger, cause error) error {
	logger.Error("dispatch failed", "error", cause)

	msg := cause.Error()
	if err := s.ledger.SetStatus(ctx, deliveryID, domain.DeliveryStatusFailed, &msg); err != nil {
		return fmt.Errorf("record dispatch failure: %w", err)
	}
	return nil
}
