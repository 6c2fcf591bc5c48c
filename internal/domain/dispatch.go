package domain

import "time"

// DispatchMessage is the queue payload handed from the webhook receiver
// to the dispatch worker. It carries identifiers only; the worker loads
// the raw payload from the ledger.
type DispatchMessage struct {
	MessageID  string    `json:"message_id"`
	DeliveryID int64     `json:"delivery_id"`
	RunID      string    `json:"run_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DispatchStats holds statistics about one dispatch run.
type DispatchStats struct {
	RunID    string
	Fetched  int
	Ingested int
	Skipped  int
	Errors   int
	Duration time.Duration
}
