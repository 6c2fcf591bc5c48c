package domain

import "time"

type Article struct {
	ID             int64
	ActorID        string // identifies the actor that scraped the page
	Title          string
	Body           *string
	SourceURL      string
	PublishedAt    *time.Time
	Sentiment      *string
	SentimentScore *float32
	Entities       []Entity
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Entity is a named entity mentioned by an article. (Name, Type) is the
// natural key.
type Entity struct {
	ID   int64
	Name string
	Type string
}

// NormalizedItem is the canonical shape of one raw dataset item. Every
// field is optional: normalization is best effort and the ingest policy
// decides what to do with incomplete items. It is never persisted.
type NormalizedItem struct {
	Title       *string
	Body        *string
	SourceURL   *string
	PublishedAt *time.Time
}
