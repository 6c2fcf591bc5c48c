//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"news_ingest/internal/domain"
	"news_ingest/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_webhook_deliveries.up.sql"),
			filepath.Join(migrationsPath, "002_create_articles.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM article_entities")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM entities")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM articles")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM webhook_deliveries")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func newDelivery(runID string) *domain.WebhookDelivery {
	return &domain.WebhookDelivery{
		RunID:      runID,
		ActorID:    "acme/web-scraper",
		Status:     domain.DeliveryStatusReceived,
		RawPayload: []byte(`{"runId":"` + runID + `"}`),
	}
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_Record_Insert() {
	store := NewDeliveryStore(s.db)

	delivery := newDelivery("run-1")
	outcome, err := store.Record(s.ctx, delivery)
	s.NoError(err)
	s.Equal(domain.OutcomeCreated, outcome)
	s.Greater(delivery.ID, int64(0))
	s.False(delivery.CreatedAt.IsZero())

	stored, err := store.GetByRunID(s.ctx, "run-1")
	s.NoError(err)
	s.Equal(delivery.ID, stored.ID)
	s.Equal("acme/web-scraper", stored.ActorID)
	s.Equal(domain.DeliveryStatusReceived, stored.Status)
	s.JSONEq(`{"runId":"run-1"}`, string(stored.RawPayload))
	s.Nil(stored.LastError)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_Record_Duplicate() {
	store := NewDeliveryStore(s.db)

	first := newDelivery("run-1")
	outcome, err := store.Record(s.ctx, first)
	s.NoError(err)
	s.Equal(domain.OutcomeCreated, outcome)

	second := newDelivery("run-1")
	second.RawPayload = []byte(`{"runId":"run-1","attempt":2}`)
	outcome, err = store.Record(s.ctx, second)
	s.NoError(err)
	s.Equal(domain.OutcomeAlreadyExists, outcome)

	// The losing insert must not touch the winner's row.
	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM webhook_deliveries WHERE run_id = $1", "run-1")
	s.NoError(err)
	s.Equal(1, count)

	stored, err := store.GetByRunID(s.ctx, "run-1")
	s.NoError(err)
	s.Equal(first.ID, stored.ID)
	s.JSONEq(`{"runId":"run-1"}`, string(stored.RawPayload))
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_Record_ConcurrentSameRunID() {
	store := NewDeliveryStore(s.db)

	const workers = 10
	outcomes := make([]domain.RecordOutcome, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = store.Record(s.ctx, newDelivery("run-race"))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		s.NoError(errs[i])
		if outcomes[i] == domain.OutcomeCreated {
			created++
		}
	}
	s.Equal(1, created)

	var count int
	err := s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM webhook_deliveries WHERE run_id = $1", "run-race")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_Record_EmptyRunID() {
	store := NewDeliveryStore(s.db)

	_, err := store.Record(s.ctx, newDelivery(""))
	s.ErrorIs(err, domain.ErrInvalidRunID)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM webhook_deliveries")
	s.NoError(err)
	s.Equal(0, count)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_SetStatus() {
	store := NewDeliveryStore(s.db)

	delivery := newDelivery("run-1")
	_, err := store.Record(s.ctx, delivery)
	s.NoError(err)

	err = store.SetStatus(s.ctx, delivery.ID, domain.DeliveryStatusFailed, utils.Ptr("dataset fetch failed"))
	s.NoError(err)

	stored, err := store.GetByID(s.ctx, delivery.ID)
	s.NoError(err)
	s.Equal(domain.DeliveryStatusFailed, stored.Status)
	s.Require().NotNil(stored.LastError)
	s.Equal("dataset fetch failed", *stored.LastError)

	err = store.SetStatus(s.ctx, delivery.ID, domain.DeliveryStatusSucceeded, nil)
	s.NoError(err)

	stored, err = store.GetByID(s.ctx, delivery.ID)
	s.NoError(err)
	s.Equal(domain.DeliveryStatusSucceeded, stored.Status)
	s.Nil(stored.LastError)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_SetStatus_NotFound() {
	store := NewDeliveryStore(s.db)

	err := store.SetStatus(s.ctx, 99999, domain.DeliveryStatusFailed, nil)
	s.ErrorIs(err, domain.ErrDeliveryNotFound)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_Get_NotFound() {
	store := NewDeliveryStore(s.db)

	_, err := store.GetByID(s.ctx, 99999)
	s.ErrorIs(err, domain.ErrDeliveryNotFound)

	_, err = store.GetByRunID(s.ctx, "missing-run")
	s.ErrorIs(err, domain.ErrDeliveryNotFound)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_ListFailed() {
	store := NewDeliveryStore(s.db)

	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		delivery := newDelivery(runID)
		_, err := store.Record(s.ctx, delivery)
		s.NoError(err)
		if runID != "run-2" {
			s.NoError(store.SetStatus(s.ctx, delivery.ID, domain.DeliveryStatusFailed, utils.Ptr("boom")))
		}
	}

	failed, err := store.ListFailed(s.ctx, 10)
	s.NoError(err)
	s.Len(failed, 2)
	runIDs := []string{failed[0].RunID, failed[1].RunID}
	s.ElementsMatch([]string{"run-1", "run-3"}, runIDs)

	failed, err = store.ListFailed(s.ctx, 1)
	s.NoError(err)
	s.Len(failed, 1)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_ListStaleReceived() {
	store := NewDeliveryStore(s.db)

	stale := newDelivery("run-stale")
	_, err := store.Record(s.ctx, stale)
	s.NoError(err)
	_, err = s.db.ExecContext(s.ctx,
		"UPDATE webhook_deliveries SET updated_at = now() - interval '1 hour' WHERE id = $1",
		stale.ID,
	)
	s.NoError(err)

	fresh := newDelivery("run-fresh")
	_, err = store.Record(s.ctx, fresh)
	s.NoError(err)

	deliveries, err := store.ListStaleReceived(s.ctx, time.Now().Add(-15*time.Minute), 10)
	s.NoError(err)
	s.Len(deliveries, 1)
	s.Equal("run-stale", deliveries[0].RunID)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_Insert() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		ActorID:   "acme/web-scraper",
		Title:     "Test Article",
		Body:      utils.Ptr("Test Body"),
		SourceURL: "https://example.com/article",
	}

	id, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.Greater(id, int64(0))

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles WHERE source_url = $1", "https://example.com/article")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_UpdatesSameURL() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		ActorID:   "acme/web-scraper",
		Title:     "Original Title",
		SourceURL: "https://example.com/article",
	}
	id1, err := store.Upsert(s.ctx, article)
	s.NoError(err)

	article.Title = "Updated Title"
	id2, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM articles WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("Updated Title", title)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_KeepsSentimentWhenAbsent() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		ActorID:        "acme/web-scraper",
		Title:          "Enriched",
		SourceURL:      "https://example.com/article",
		Sentiment:      utils.Ptr("positive"),
		SentimentScore: utils.Ptr(float32(0.9)),
	}
	id, err := store.Upsert(s.ctx, article)
	s.NoError(err)

	// Re-ingest without enrichment must not erase the earlier analysis.
	plain := &domain.Article{
		ActorID:   "acme/web-scraper",
		Title:     "Enriched",
		SourceURL: "https://example.com/article",
	}
	_, err = store.Upsert(s.ctx, plain)
	s.NoError(err)

	var sentiment string
	err = s.db.GetContext(s.ctx, &sentiment, "SELECT sentiment FROM articles WHERE id = $1", id)
	s.NoError(err)
	s.Equal("positive", sentiment)
}

func (s *PostgresIntegrationSuite) TestArticleStore_ExistingSourceURLs() {
	store := NewArticleStore(s.db)

	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		_, err := store.Upsert(s.ctx, &domain.Article{
			ActorID:   "acme/web-scraper",
			Title:     "Article",
			SourceURL: url,
		})
		s.NoError(err)
	}

	existing, err := store.ExistingSourceURLs(s.ctx, []string{
		"https://example.com/a",
		"https://example.com/c",
	})
	s.NoError(err)
	s.Len(existing, 1)
	s.True(existing["https://example.com/a"])
	s.False(existing["https://example.com/c"])
}

func (s *PostgresIntegrationSuite) TestEntityStore_UpsertBatch() {
	store := NewEntityStore(s.db)

	entities := []domain.Entity{
		{Name: "ACME Corp", Type: "ORG"},
		{Name: "Jane Doe", Type: "PERSON"},
	}

	ids, err := store.UpsertBatch(s.ctx, entities)
	s.NoError(err)
	s.Len(ids, 2)

	// Upserting again resolves the same ids.
	again, err := store.UpsertBatch(s.ctx, entities)
	s.NoError(err)
	s.Equal(ids, again)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM entities")
	s.NoError(err)
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestEntityStore_UpsertBatch_DuplicateInput() {
	store := NewEntityStore(s.db)

	ids, err := store.UpsertBatch(s.ctx, []domain.Entity{
		{Name: "ACME Corp", Type: "ORG"},
		{Name: "Jane Doe", Type: "PERSON"},
		{Name: "ACME Corp", Type: "ORG"},
	})
	s.NoError(err)
	s.Require().Len(ids, 3)
	s.Equal(ids[0], ids[2])
	s.NotEqual(ids[0], ids[1])

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM entities")
	s.NoError(err)
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestEntityStore_LinkToArticle_ReplacesOld() {
	entityStore := NewEntityStore(s.db)
	articleStore := NewArticleStore(s.db)

	articleID, err := articleStore.Upsert(s.ctx, &domain.Article{
		ActorID:   "acme/web-scraper",
		Title:     "Article",
		SourceURL: "https://example.com/article",
	})
	s.NoError(err)

	ids, err := entityStore.UpsertBatch(s.ctx, []domain.Entity{
		{Name: "ACME Corp", Type: "ORG"},
		{Name: "Jane Doe", Type: "PERSON"},
		{Name: "Berlin", Type: "LOCATION"},
	})
	s.NoError(err)

	s.NoError(entityStore.LinkToArticle(s.ctx, articleID, ids[:2]))
	s.NoError(entityStore.LinkToArticle(s.ctx, articleID, ids[2:]))

	linked, err := entityStore.GetByArticleID(s.ctx, articleID)
	s.NoError(err)
	s.Len(linked, 1)
	s.Equal("Berlin", linked[0].Name)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	articleStore := NewArticleStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := articleStore.Upsert(ctx, &domain.Article{
			ActorID:   "acme/web-scraper",
			Title:     "Transaction Article",
			SourceURL: "https://example.com/tx-article",
		})
		return err
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles WHERE source_url = $1", "https://example.com/tx-article")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	articleStore := NewArticleStore(s.db)
	entityStore := NewEntityStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		articleID, err := articleStore.Upsert(ctx, &domain.Article{
			ActorID:   "acme/web-scraper",
			Title:     "Should Rollback",
			SourceURL: "https://example.com/rollback",
		})
		if err != nil {
			return err
		}

		ids, err := entityStore.UpsertBatch(ctx, []domain.Entity{{Name: "ACME Corp", Type: "ORG"}})
		if err != nil {
			return err
		}
		if err := entityStore.LinkToArticle(ctx, articleID, ids); err != nil {
			return err
		}

		return context.Canceled
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles")
	s.NoError(err)
	s.Equal(0, count)

	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM entities")
	s.NoError(err)
	s.Equal(0, count)
}
