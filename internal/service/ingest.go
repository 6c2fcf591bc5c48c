package service

import (
	"context"
	"fmt"
	"log/slog"

	"news_ingest/internal/analysis"
	"news_ingest/internal/domain"
)

// IngestService owns the skip/accept policy for normalized items and
// persists the ones it accepts.
type IngestService struct {
	articles  ArticleStore
	entities  EntityStore
	txManager TransactionManager
	seen      SeenCache
	analyzer  Analyzer
	logger    *slog.Logger
}

func NewIngestService(
	articles ArticleStore,
	entities EntityStore,
	txManager TransactionManager,
	seen SeenCache,
	analyzer Analyzer,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		articles:  articles,
		entities:  entities,
		txManager: txManager,
		seen:      seen,
		analyzer:  analyzer,
		logger:    logger.With("component", "ingest"),
	}
}

// Ingest persists one normalized item. Items without a title or source
// URL are skipped, as are URLs seen recently. The returned bool reports
// acceptance.
func (s *IngestService) Ingest(ctx context.Context, actorID string, item domain.NormalizedItem) (bool, error) {
	if item.Title == nil || item.SourceURL == nil {
		s.logger.Debug("skipping incomplete item",
			"has_title", item.Title != nil,
			"has_url", item.SourceURL != nil,
		)
		return false, nil
	}

	if s.seen != nil {
		seen, err := s.seen.MarkSeen(ctx, *item.SourceURL)
		if err != nil {
			// The cache is advisory; the source_url constraint still
			// dedupes at the storage layer.
			s.logger.Warn("seen cache unavailable", "error", err)
		} else if seen {
			s.logger.Debug("skipping recently seen url", "url", *item.SourceURL)
			return false, nil
		}
	}

	article := &domain.Article{
		ActorID:     actorID,
		Title:       *item.Title,
		Body:        item.Body,
		SourceURL:   *item.SourceURL,
		PublishedAt: item.PublishedAt,
	}

	s.enrich(ctx, article)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		articleID, err := s.articles.Upsert(txCtx, article)
		if err != nil {
			return fmt.Errorf("upsert article: %w", err)
		}

		if len(article.Entities) > 0 {
			entityIDs, err := s.entities.UpsertBatch(txCtx, article.Entities)
			if err != nil {
				return fmt.Errorf("upsert entities: %w", err)
			}

			if err := s.entities.LinkToArticle(txCtx, articleID, entityIDs); err != nil {
				return fmt.Errorf("link entities: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// enrich attaches sentiment and entities when the analyzer is
// available. Enrichment failures degrade to a bare article.
func (s *IngestService) enrich(ctx context.Context, article *domain.Article) {
	if s.analyzer == nil || !s.analyzer.Ready() {
		return
	}

	body := ""
	if article.Body != nil {
		body = *article.Body
	}

	result, err := s.analyzer.Evaluate(ctx, analysis.ArticleContext{
		Title: article.Title,
		Body:  body,
		URL:   article.SourceURL,
	})
	if err != nil {
		s.logger.Warn("analysis failed, ingesting without enrichment",
			"url", article.SourceURL,
			"error", err,
		)
		return
	}

	if result.Sentiment != "" {
		sentiment := result.Sentiment
		score := result.Score
		article.Sentiment = &sentiment
		article.SentimentScore = &score
	}
	// The prompt asks for deduplicated entities, but model output is
	// untrusted: repeated (name, type) pairs would collide in the batch
	// upsert.
	type entityKey struct {
		name string
		typ  string
	}
	added := make(map[entityKey]bool)
	for _, e := range result.Entities {
		if e.Name == "" {
			continue
		}
		entityType := e.Type
		if entityType == "" {
			entityType = "OTHER"
		}
		key := entityKey{name: e.Name, typ: entityType}
		if added[key] {
			continue
		}
		added[key] = true
		article.Entities = append(article.Entities, domain.Entity{
			Name: e.Name,
			Type: entityType,
		})
	}
}
