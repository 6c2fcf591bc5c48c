package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// DeliveryStatus tracks a webhook delivery through downstream processing.
type DeliveryStatus string

const (
	DeliveryStatusReceived  DeliveryStatus = "RECEIVED"
	DeliveryStatusSucceeded DeliveryStatus = "SUCCEEDED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
	// DeliveryStatusAbandoned is terminal: the reconciler stops
	// requeueing a delivery that kept failing past the give-up window.
	DeliveryStatusAbandoned DeliveryStatus = "ABANDONED"
)

// RecordOutcome is the result of recording a delivery in the ledger.
type RecordOutcome int

const (
	OutcomeCreated RecordOutcome = iota
	OutcomeAlreadyExists
)

var (
	// ErrInvalidRunID is returned before any storage call when the
	// idempotency key is empty.
	ErrInvalidRunID = errors.New("run id must not be empty")

	// ErrDeliveryNotFound is returned when a delivery row does not exist.
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

// WebhookPayload is the structured body of an actor-run webhook. The
// receiver validates it; the dispatch worker re-parses it from the
// stored raw payload to find the dataset to fetch.
type WebhookPayload struct {
	RunID     string `json:"runId"`
	ActorID   string `json:"actorId"`
	Status    string `json:"status"`
	DatasetID string `json:"datasetId"`
}

// Actor run statuses reported by the external sender.
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
	RunStatusTimedOut  = "TIMED-OUT"
	RunStatusAborted   = "ABORTED"
)

// WebhookDelivery is the ledger entry for one actor-run notification.
// At most one row exists per RunID; the database unique constraint is
// the source of truth for that invariant.
type WebhookDelivery struct {
	ID         int64           `db:"id" json:"id"`
	RunID      string          `db:"run_id" json:"run_id"`
	ActorID    string          `db:"actor_id" json:"actor_id"`
	Status     DeliveryStatus  `db:"status" json:"status"`
	RawPayload json.RawMessage `db:"raw_payload" json:"raw_payload"`
	LastError  *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
