package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"news_ingest/internal/analysis"
	"news_ingest/internal/domain"
)

type DeliveryLedger interface {
	Record(ctx context.Context, delivery *domain.WebhookDelivery) (domain.RecordOutcome, error)
	GetByID(ctx context.Context, id int64) (*domain.WebhookDelivery, error)
	SetStatus(ctx context.Context, id int64, status domain.DeliveryStatus, lastError *string) error
}

type ArticleStore interface {
	Upsert(ctx context.Context, article *domain.Article) (int64, error)
}

type EntityStore interface {
	UpsertBatch(ctx context.Context, entities []domain.Entity) ([]int64, error)
	LinkToArticle(ctx context.Context, articleID int64, entityIDs []int64) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DatasetClient interface {
	FetchItems(ctx context.Context, datasetID string, maxItems int) ([]map[string]any, error)
}

type Normalizer interface {
	Normalize(actorID string, raw map[string]any) domain.NormalizedItem
}

type SeenCache interface {
	MarkSeen(ctx context.Context, sourceURL string) (bool, error)
}

type JobPublisher interface {
	PublishDispatch(ctx context.Context, deliveryID int64, runID string) error
}

type Analyzer interface {
	Evaluate(ctx context.Context, article analysis.ArticleContext) (analysis.Result, error)
	Ready() bool
}

// Ingestor consumes normalized items and applies the skip/accept
// policy. Ingest reports whether the item was accepted.
type Ingestor interface {
	Ingest(ctx context.Context, actorID string, item domain.NormalizedItem) (bool, error)
}
