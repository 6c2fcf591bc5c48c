package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_ingest/internal/domain"
)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// Upsert inserts the article or refreshes an existing row with the same
// source URL. Runs inside the ambient transaction when one is present.
func (s *ArticleStore) Upsert(ctx context.Context, article *domain.Article) (int64, error) {
	query := `
		INSERT INTO articles (
			actor_id, title, body, source_url, published_at, sentiment, sentiment_score
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (source_url) DO UPDATE SET
			actor_id = EXCLUDED.actor_id,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			published_at = EXCLUDED.published_at,
			sentiment = COALESCE(EXCLUDED.sentiment, articles.sentiment),
			sentiment_score = COALESCE(EXCLUDED.sentiment_score, articles.sentiment_score),
			updated_at = now()
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		article.ActorID,
		article.Title,
		article.Body,
		article.SourceURL,
		article.PublishedAt,
		article.Sentiment,
		article.SentimentScore,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ExistingSourceURLs reports which of the given URLs already have an
// article row.
func (s *ArticleStore) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(urls) == 0 {
		return result, nil
	}

	query := `SELECT source_url FROM articles WHERE source_url = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(urls))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		result[url] = true
	}

	return result, rows.Err()
}
