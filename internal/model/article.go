package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Provider identifies the adapter that produced an article.
type Provider string

const (
	ProviderDuckDuckGo Provider = "duckduckgo"
	ProviderSerperDev  Provider = "serperdev"
	ProviderRSS        Provider = "rss"
)

// ContentFetchingResult records the outcome of the URL-to-Markdown
// conversion for one article, kept for debugging and re-processing.
type ContentFetchingResult struct {
	Markdown         string            `bson:"markdown,omitempty" json:"markdown,omitempty"`
	Metadata         map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	ExtractionMethod string            `bson:"extraction_method,omitempty" json:"extraction_method,omitempty"`
	Error            string            `bson:"error,omitempty" json:"error,omitempty"`
}

// Article is one ingested piece of content, unique per (workspace_id, url).
type Article struct {
	ID                   primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	WorkspaceID          primitive.ObjectID     `bson:"workspace_id" json:"workspace_id"`
	Title                string                 `bson:"title" json:"title"`
	URL                  string                 `bson:"url" json:"url"`
	Body                 string                 `bson:"body" json:"body"`
	Date                 time.Time              `bson:"date" json:"date"`
	FoundAt              time.Time              `bson:"found_at" json:"found_at"`
	Region               string                 `bson:"region,omitempty" json:"region,omitempty"`
	Image                string                 `bson:"image,omitempty" json:"image,omitempty"`
	Source               string                 `bson:"source,omitempty" json:"source,omitempty"`
	Content              string                 `bson:"content,omitempty" json:"content,omitempty"`
	ContentCleaningError string                 `bson:"content_cleaning_error,omitempty" json:"content_cleaning_error,omitempty"`
	Provider             Provider               `bson:"provider" json:"provider"`
	IngestionRunID       primitive.ObjectID     `bson:"ingestion_run_id,omitempty" json:"ingestion_run_id,omitempty"`
	VectorIndexed        bool                   `bson:"vector_indexed" json:"vector_indexed"`
	ContentFetching      *ContentFetchingResult `bson:"content_fetching_result,omitempty" json:"content_fetching_result,omitempty"`
	CreatedAt            time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `bson:"updated_at" json:"updated_at"`
}

// CollectionName specifies the collection name for Article.
func (Article) CollectionName() string {
	return "articles"
}

// EmbeddingText is the text embedded into the vector store.
func (a *Article) EmbeddingText() string {
	return a.Title + "\n" + a.Body
}
