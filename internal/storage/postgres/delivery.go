package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_ingest/internal/domain"
)

// runIDConstraint is the unique constraint backing the idempotency
// guarantee. Only violations of this constraint count as duplicates;
// any other constraint violation is a hard failure.
const runIDConstraint = "webhook_deliveries_run_id_key"

type DeliveryStore struct {
	db *sqlx.DB
}

func NewDeliveryStore(db *sqlx.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// Record inserts the delivery and reports whether this call created the
// row. Concurrent callers racing on the same run_id rely on the unique
// constraint: exactly one insert wins, the rest observe
// OutcomeAlreadyExists with zero writes. There is deliberately no
// existence check before the insert.
func (s *DeliveryStore) Record(ctx context.Context, delivery *domain.WebhookDelivery) (domain.RecordOutcome, error) {
	if delivery.RunID == "" {
		return domain.OutcomeAlreadyExists, domain.ErrInvalidRunID
	}

	query := `
		INSERT INTO webhook_deliveries (run_id, actor_id, status, raw_payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		delivery.RunID,
		delivery.ActorID,
		delivery.Status,
		delivery.RawPayload,
	).Scan(&delivery.ID, &delivery.CreatedAt, &delivery.UpdatedAt)

	if err != nil {
		if isRunIDConflict(err) {
			return domain.OutcomeAlreadyExists, nil
		}
		return domain.OutcomeAlreadyExists, err
	}

	return domain.OutcomeCreated, nil
}

func (s *DeliveryStore) GetByID(ctx context.Context, id int64) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	query := `
		SELECT id, run_id, actor_id, status, raw_payload, last_error, created_at, updated_at
		FROM webhook_deliveries
		WHERE id = $1`

	err := s.db.GetContext(ctx, &delivery, query, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (s *DeliveryStore) GetByRunID(ctx context.Context, runID string) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	query := `
		SELECT id, run_id, actor_id, status, raw_payload, last_error, created_at, updated_at
		FROM webhook_deliveries
		WHERE run_id = $1`

	err := s.db.GetContext(ctx, &delivery, query, runID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// SetStatus moves a delivery to the given status. lastError may be nil;
// it is stored verbatim for FAILED rows so the reconciler has context.
func (s *DeliveryStore) SetStatus(ctx context.Context, id int64, status domain.DeliveryStatus, lastError *string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, status, lastError)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

// ListFailed returns FAILED deliveries, oldest first.
func (s *DeliveryStore) ListFailed(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	query := `
		SELECT id, run_id, actor_id, status, raw_payload, last_error, created_at, updated_at
		FROM webhook_deliveries
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2`

	var deliveries []domain.WebhookDelivery
	err := s.db.SelectContext(ctx, &deliveries, query, domain.DeliveryStatusFailed, limit)
	return deliveries, err
}

// ListStaleReceived returns RECEIVED deliveries whose dispatch job
// apparently never completed (for example a worker crash between
// acknowledgment and processing).
func (s *DeliveryStore) ListStaleReceived(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `
		SELECT id, run_id, actor_id, status, raw_payload, last_error, created_at, updated_at
		FROM webhook_deliveries
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	var deliveries []domain.WebhookDelivery
	err := s.db.SelectContext(ctx, &deliveries, query, domain.DeliveryStatusReceived, olderThan, limit)
	return deliveries, err
}

func isRunIDConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == runIDConstraint
}
