package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"news_ingest/internal/domain"
)

type EntityStore struct {
	db *sqlx.DB
}

func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

type entityKey struct {
	name string
	typ  string
}

// UpsertBatch inserts the entities, resolving ids for rows that already
// exist, and returns ids in input order. Repeated (name, type) pairs in
// the input resolve to the same id: the statement only inserts each key
// once, since Postgres rejects ON CONFLICT DO UPDATE touching the same
// row twice.
func (s *EntityStore) UpsertBatch(ctx context.Context, entities []domain.Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	index := make(map[entityKey]int)
	unique := make([]domain.Entity, 0, len(entities))
	for _, entity := range entities {
		key := entityKey{name: entity.Name, typ: entity.Type}
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(unique)
		unique = append(unique, entity)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO entities (name, type) VALUES ")
	valueArgs := make([]interface{}, 0, len(unique)*2)

	for i, entity := range unique {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($")
		sb.WriteString(itoa(i*2 + 1))
		sb.WriteString(", $")
		sb.WriteString(itoa(i*2 + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, entity.Name, entity.Type)
	}
	// DO UPDATE instead of DO NOTHING so RETURNING covers existing rows.
	sb.WriteString(" ON CONFLICT (name, type) DO UPDATE SET name = EXCLUDED.name RETURNING id")

	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, sb.String(), valueArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uniqueIDs := make([]int64, 0, len(unique))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		uniqueIDs = append(uniqueIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(uniqueIDs) != len(unique) {
		return nil, fmt.Errorf("expected %d entity ids, got %d", len(unique), len(uniqueIDs))
	}

	ids := make([]int64, len(entities))
	for i, entity := range entities {
		ids[i] = uniqueIDs[index[entityKey{name: entity.Name, typ: entity.Type}]]
	}

	return ids, nil
}

func (s *EntityStore) LinkToArticle(ctx context.Context, articleID int64, entityIDs []int64) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx,
		"DELETE FROM article_entities WHERE article_id = $1",
		articleID,
	)
	if err != nil {
		return err
	}

	if len(entityIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO article_entities (article_id, entity_id) VALUES ")
	valueArgs := make([]interface{}, 0, len(entityIDs)+1)
	valueArgs = append(valueArgs, articleID)

	for i, entityID := range entityIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $")
		sb.WriteString(itoa(i + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, entityID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *EntityStore) GetByArticleID(ctx context.Context, articleID int64) ([]domain.Entity, error) {
	query := `
		SELECT e.id, e.name, e.type
		FROM entities e
		INNER JOIN article_entities ae ON ae.entity_id = e.id
		WHERE ae.article_id = $1`

	rows, err := s.db.QueryxContext(ctx, query, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
